// Package session runs the ordered session-establishment pipeline.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/helix/internal/carryover"
	"github.com/arloliu/helix/internal/hooks"
	"github.com/arloliu/helix/internal/liveness"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/types"
)

// Pipeline step names.
const (
	StepEnsureNoLiveInstance = "ensure-no-live-instance"
	StepPreConnectCallbacks  = "pre-connect-callbacks"
	StepCreateLiveInstance   = "create-live-instance"
	StepCarryOverState       = "carry-over-current-state"
	StepSubscribeMessages    = "subscribe-messages"
)

// Callback runs before the live-instance node is created.
type Callback func(ctx context.Context) error

// Registrar publishes the live-instance node.
type Registrar interface {
	EnsureAbsent(ctx context.Context) error
	Register(ctx context.Context, sessionID string) (liveness.LiveInstance, error)
}

// Carrier migrates prior-session partition states.
type Carrier interface {
	Run(ctx context.Context, sessionID string) ([]carryover.Seed, error)
}

// Seeder restores carried partition states.
type Seeder interface {
	Seed(def, partition, state string) error
}

// Subscriber starts message delivery.
type Subscriber interface {
	Subscribe(ctx context.Context) error
}

// Participants are the collaborators one establishment attempt drives.
type Participants struct {
	Liveness  Registrar
	Carryover Carrier
	Engine    Seeder
	Channel   Subscriber
}

// Config configures a Coordinator.
type Config struct {
	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
}

// Coordinator owns the pre-connect callbacks and builds establishment pipelines.
type Coordinator struct {
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks

	mu        sync.Mutex
	callbacks []Callback
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		hooks:   hooks.Fill(cfg.Hooks),
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}

	return c
}

// AddPreConnectCallback appends cb; callbacks run in registration order.
func (c *Coordinator) AddPreConnectCallback(cb Callback) {
	if cb == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.callbacks = append(c.callbacks, cb)
}

// CallbackCount returns the number of registered callbacks.
func (c *Coordinator) CallbackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.callbacks)
}

// InvokePreConnectCallbacks runs every callback synchronously in order.
//
// A failing or panicking callback is logged and reported through
// Hooks.OnError; the remaining callbacks still run.
func (c *Coordinator) InvokePreConnectCallbacks(ctx context.Context) {
	c.mu.Lock()
	callbacks := append([]Callback(nil), c.callbacks...)
	c.mu.Unlock()

	for i, cb := range callbacks {
		if err := invoke(ctx, cb); err != nil {
			err = fmt.Errorf("pre-connect callback %d: %w", i, err)
			c.logger.Warn("pre-connect callback failed", "index", i, "error", err)

			go func() {
				if herr := c.hooks.OnError(ctx, err); herr != nil {
					c.logger.Error("error hook failed", "error", herr)
				}
			}()
		}
	}
}

func invoke(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return cb(ctx)
}

// Pipeline builds the establishment pipeline for sessionID.
//
// Order: ensure no live instance, pre-connect callbacks, create live
// instance, carry over current state, subscribe to messages.
func (c *Coordinator) Pipeline(sessionID string, p Participants, alive func() bool) *Pipeline {
	steps := []Step{
		{Name: StepEnsureNoLiveInstance, Run: p.Liveness.EnsureAbsent},
		{Name: StepPreConnectCallbacks, Run: func(ctx context.Context) error {
			c.InvokePreConnectCallbacks(ctx)
			return nil
		}},
		{Name: StepCreateLiveInstance, Run: func(ctx context.Context) error {
			_, err := p.Liveness.Register(ctx, sessionID)
			return err
		}},
		{Name: StepCarryOverState, Run: func(ctx context.Context) error {
			return c.carryOver(ctx, sessionID, p)
		}},
		{Name: StepSubscribeMessages, Run: p.Channel.Subscribe},
	}

	return NewPipeline(steps, alive, c.logger, c.metrics)
}

// Establish builds and runs the pipeline for sessionID.
func (c *Coordinator) Establish(ctx context.Context, sessionID string, p Participants, alive func() bool) error {
	return c.Pipeline(sessionID, p, alive).Run(ctx)
}

func (c *Coordinator) carryOver(ctx context.Context, sessionID string, p Participants) error {
	seeds, err := p.Carryover.Run(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		if err := p.Engine.Seed(seed.StateModelDef, seed.Partition, seed.State); err != nil {
			c.logger.Warn("ignoring carried state",
				"resource", seed.Resource,
				"partition", seed.Partition,
				"state", seed.State,
				"state_model_def", seed.StateModelDef,
				"error", err,
			)
		}
	}

	return nil
}
