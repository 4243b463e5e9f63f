// Package carryover migrates partition current states across sessions and
// keeps the current session's records up to date.
package carryover

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/internal/roundtrip"
	"github.com/arloliu/helix/types"
)

// Config configures a Manager.
type Config struct {
	ClusterName      string
	InstanceName     string
	OperationTimeout time.Duration
	Logger           types.Logger
	Metrics          types.MetricsCollector
}

// Manager owns the instance's CURRENTSTATES subtree.
type Manager struct {
	client  types.CoordinationClient
	cfg     Config
	logger  types.Logger
	metrics types.MetricsCollector
	now     func() time.Time

	// mu serializes read-modify-write cycles on current-state records.
	mu sync.Mutex
}

// New creates a carryover manager.
func New(client types.CoordinationClient, cfg Config) *Manager {
	m := &Manager{
		client:  client,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNop()
	}

	return m
}

type priorRecord struct {
	session  string
	resource string
	rec      types.Record
	ts       int64
}

// Run carries partition states recorded by earlier sessions into session.
//
// For every partition a prior session recorded, the state is copied into the
// current session's record unless the current session already has one. When
// several prior sessions recorded the same partition the most recently
// updated record wins. All prior-session records are deleted afterwards.
//
// Parameters:
//   - ctx: Pipeline context
//   - session: Current session id
//
// Returns:
//   - []Seed: Every partition state recorded for the current session, sorted
//     by resource and partition
//   - error: Classified coordination error; the caller aborts the pipeline
func (m *Manager) Run(ctx context.Context, session string) ([]Seed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := paths.CurrentStates(m.cfg.ClusterName, m.cfg.InstanceName)
	sessions, err := m.children(ctx, root)
	if errors.Is(err, types.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	current := make(map[string]types.Record)
	existing := make(map[string]bool)
	var priors []priorRecord
	priorSessions := 0

	for _, s := range sessions {
		records, err := m.readSession(ctx, s)
		if err != nil {
			return nil, err
		}
		if s == session {
			for resource, rec := range records {
				current[resource] = rec
				existing[resource] = true
			}
			continue
		}
		priorSessions++
		for resource, rec := range records {
			priors = append(priors, priorRecord{session: s, resource: resource, rec: rec, ts: updatedAt(rec)})
		}
	}

	slices.SortFunc(priors, func(a, b priorRecord) int {
		if c := cmp.Compare(b.ts, a.ts); c != 0 {
			return c
		}
		return cmp.Compare(b.session, a.session)
	})

	dirty := make(map[string]bool)
	migrated := 0
	for _, prior := range priors {
		resource := prior.resource
		rec, ok := current[resource]
		if !ok {
			rec = newResourceRecord(resource, session)
			current[resource] = rec
		}
		for partition := range prior.rec.MapFields {
			state, ok := partitionState(prior.rec, partition)
			if !ok {
				continue
			}
			if _, has := partitionState(rec, partition); has {
				continue
			}
			setPartitionState(rec, partition, state)
			setStateModelDef(rec, stateModelDef(prior.rec))
			dirty[resource] = true
			migrated++
		}
	}

	for resource := range dirty {
		rec := current[resource]
		touch(rec, m.now())
		if err := m.write(ctx, paths.CurrentState(m.cfg.ClusterName, m.cfg.InstanceName, session, resource), rec, existing[resource]); err != nil {
			return nil, err
		}
	}

	if err := m.deletePriors(ctx, sessions, session); err != nil {
		return nil, err
	}

	m.metrics.RecordCarryover(migrated)
	if migrated > 0 {
		m.logger.Info("carried over partition states",
			"session", session,
			"partitions", migrated,
			"prior_sessions", priorSessions,
		)
	}

	return seeds(current), nil
}

// Record stores state as the partition's current state for session, along
// with the name of the state model definition the resource uses.
//
// Safe for concurrent use; used as the engine's state recorder.
func (m *Manager) Record(ctx context.Context, session, resource, def, partition, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := paths.CurrentState(m.cfg.ClusterName, m.cfg.InstanceName, session, resource)

	rec, exists, err := m.read(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		rec = newResourceRecord(resource, session)
	}

	setPartitionState(rec, partition, state)
	setStateModelDef(rec, def)
	touch(rec, m.now())

	return m.write(ctx, path, rec, exists)
}

// Read returns the current-state records of session keyed by resource.
func (m *Manager) Read(ctx context.Context, session string) (map[string]types.Record, error) {
	return m.readSession(ctx, session)
}

func (m *Manager) readSession(ctx context.Context, session string) (map[string]types.Record, error) {
	dir := paths.SessionCurrentStates(m.cfg.ClusterName, m.cfg.InstanceName, session)
	resources, err := m.children(ctx, dir)
	if errors.Is(err, types.ErrNoNode) {
		return map[string]types.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.Record, len(resources))
	for _, resource := range resources {
		rec, exists, err := m.read(ctx, paths.Join(dir, resource))
		if err != nil {
			var perr *parseError
			if errors.As(err, &perr) {
				m.logger.Warn("skipping malformed current state record", "path", perr.path, "error", perr.err)
				continue
			}
			return nil, err
		}
		if !exists {
			continue
		}
		if rec.ID == "" {
			rec.ID = resource
		}
		out[resource] = rec
	}

	return out, nil
}

func (m *Manager) deletePriors(ctx context.Context, sessions []string, current string) error {
	for _, s := range sessions {
		if s == current {
			continue
		}

		dir := paths.SessionCurrentStates(m.cfg.ClusterName, m.cfg.InstanceName, s)
		resources, err := m.children(ctx, dir)
		if err != nil && !errors.Is(err, types.ErrNoNode) {
			return err
		}
		for _, resource := range resources {
			if err := m.delete(ctx, paths.Join(dir, resource)); err != nil {
				return err
			}
		}
		if err := m.delete(ctx, dir); err != nil {
			return err
		}

		m.logger.Debug("removed prior session current states", "session", s, "resources", len(resources))
	}

	return nil
}

type parseError struct {
	path string
	err  error
}

func (e *parseError) Error() string { return fmt.Sprintf("parse %s: %v", e.path, e.err) }
func (e *parseError) Unwrap() error { return e.err }

func (m *Manager) read(ctx context.Context, path string) (types.Record, bool, error) {
	data, err := roundtrip.Value(ctx, m.cfg.OperationTimeout, "get "+path,
		func(ctx context.Context) ([]byte, error) {
			return m.client.Get(ctx, path)
		})
	if errors.Is(err, types.ErrNoNode) {
		return types.Record{}, false, nil
	}
	if err != nil {
		return types.Record{}, false, err
	}

	rec, err := types.ParseRecord(data)
	if err != nil {
		return types.Record{}, false, &parseError{path: path, err: err}
	}

	return rec, true, nil
}

func (m *Manager) write(ctx context.Context, path string, rec types.Record, exists bool) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}

	if exists {
		return roundtrip.Do(ctx, m.cfg.OperationTimeout, "set "+path, func(ctx context.Context) error {
			return m.client.Set(ctx, path, data)
		})
	}

	err = roundtrip.Do(ctx, m.cfg.OperationTimeout, "create "+path, func(ctx context.Context) error {
		return m.client.Create(ctx, path, data, types.Persistent)
	})
	if errors.Is(err, types.ErrNodeExists) {
		return roundtrip.Do(ctx, m.cfg.OperationTimeout, "set "+path, func(ctx context.Context) error {
			return m.client.Set(ctx, path, data)
		})
	}

	return err
}

func (m *Manager) delete(ctx context.Context, path string) error {
	err := roundtrip.Do(ctx, m.cfg.OperationTimeout, "delete "+path, func(ctx context.Context) error {
		return m.client.Delete(ctx, path)
	})
	if errors.Is(err, types.ErrNoNode) {
		return nil
	}

	return err
}

func (m *Manager) children(ctx context.Context, path string) ([]string, error) {
	return roundtrip.Value(ctx, m.cfg.OperationTimeout, "children "+path,
		func(ctx context.Context) ([]string, error) {
			return m.client.Children(ctx, path)
		})
}

func seeds(records map[string]types.Record) []Seed {
	var out []Seed
	for resource, rec := range records {
		for partition := range rec.MapFields {
			if state, ok := partitionState(rec, partition); ok {
				out = append(out, Seed{
					Resource:      resource,
					Partition:     partition,
					State:         state,
					StateModelDef: stateModelDef(rec),
				})
			}
		}
	}
	slices.SortFunc(out, func(a, b Seed) int {
		if c := cmp.Compare(a.Resource, b.Resource); c != 0 {
			return c
		}
		return cmp.Compare(a.Partition, b.Partition)
	})

	return out
}
