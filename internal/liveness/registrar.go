// Package liveness publishes and checks the participant's live-instance node.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/internal/roundtrip"
	"github.com/arloliu/helix/types"
)

// Config configures a Registrar.
type Config struct {
	ClusterName  string
	InstanceName string
	Version      string
	// OperationTimeout bounds each coordination round trip.
	OperationTimeout time.Duration
	Logger           types.Logger
}

// Registrar owns the /{cluster}/LIVEINSTANCES/{instance} node.
type Registrar struct {
	client  types.CoordinationClient
	cfg     Config
	path    string
	runtime string
	logger  types.Logger
}

// NewRegistrar creates a registrar for the configured instance.
func NewRegistrar(client types.CoordinationClient, cfg Config) *Registrar {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Registrar{
		client:  client,
		cfg:     cfg,
		path:    paths.LiveInstance(cfg.ClusterName, cfg.InstanceName),
		runtime: RuntimeName(),
		logger:  logger,
	}
}

// Path returns the live-instance node path.
func (r *Registrar) Path() string { return r.path }

// EnsureAbsent fails if another process already holds the instance name.
//
// Returns:
//   - error: types.ErrDuplicateInstance if the node exists, or a classified
//     coordination error
func (r *Registrar) EnsureAbsent(ctx context.Context) error {
	exists, err := roundtrip.Value(ctx, r.cfg.OperationTimeout, "exists "+r.path,
		func(ctx context.Context) (bool, error) {
			return r.client.Exists(ctx, r.path)
		})
	if err != nil {
		return err
	}

	if exists {
		r.logger.Warn("live instance already exists", "path", r.path)
		return fmt.Errorf("%w: %s", types.ErrDuplicateInstance, r.path)
	}

	return nil
}

// Register creates the ephemeral live-instance node for sessionID.
//
// Creation is atomic: if another session wins the race after EnsureAbsent,
// Register returns types.ErrDuplicateInstance.
//
// Returns:
//   - LiveInstance: The published record
//   - error: types.ErrDuplicateInstance, or a classified coordination error
func (r *Registrar) Register(ctx context.Context, sessionID string) (LiveInstance, error) {
	li := LiveInstance{
		InstanceName: r.cfg.InstanceName,
		Version:      r.cfg.Version,
		RuntimeName:  r.runtime,
		SessionID:    sessionID,
	}

	data, err := li.Marshal()
	if err != nil {
		return LiveInstance{}, fmt.Errorf("encode live instance: %w", err)
	}

	err = roundtrip.Do(ctx, r.cfg.OperationTimeout, "create "+r.path, func(ctx context.Context) error {
		return r.client.Create(ctx, r.path, data, types.Ephemeral)
	})
	if errors.Is(err, types.ErrNodeExists) {
		return LiveInstance{}, fmt.Errorf("%w: %s", types.ErrDuplicateInstance, r.path)
	}
	if err != nil {
		return LiveInstance{}, err
	}

	r.logger.Info("live instance registered",
		"path", r.path,
		"session", sessionID,
		"runtime", r.runtime,
	)

	return li, nil
}

// Lookup reads the current live-instance record.
//
// Returns:
//   - error: types.ErrNoNode if no live instance exists
func (r *Registrar) Lookup(ctx context.Context) (LiveInstance, error) {
	data, err := roundtrip.Value(ctx, r.cfg.OperationTimeout, "get "+r.path,
		func(ctx context.Context) ([]byte, error) {
			return r.client.Get(ctx, r.path)
		})
	if err != nil {
		return LiveInstance{}, err
	}

	return ParseLiveInstance(data)
}
