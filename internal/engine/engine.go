// Package engine dispatches state transition messages to per-partition state models.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/helix/internal/hooks"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/statemodel"
	"github.com/arloliu/helix/types"
)

const tracerName = "github.com/arloliu/helix/engine"

// Dispatch outcome labels.
const (
	ResultSuccess     = "success"
	ResultStale       = "stale"
	ResultUnsupported = "unsupported"
	ResultFailed      = "failed"
)

// StateRecorder persists a partition's state after a successful transition.
// def is the name of the definition the partition's model was built from.
type StateRecorder func(ctx context.Context, resource, def, partition, state string) error

// Config configures an Engine.
type Config struct {
	// Factory materializes state models on first reference. Required.
	Factory *statemodel.Factory

	// Notification returns the context passed to handlers (cluster, instance, session).
	Notification func() types.NotificationContext

	// Parallelism bounds the number of partitions transitioning at once (default 1).
	Parallelism int

	// Recorder is called after each successful transition. Optional.
	Recorder StateRecorder

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
	Tracer  trace.Tracer
}

// Engine owns the partition -> state model map.
type Engine struct {
	factory     *statemodel.Factory
	notify      func() types.NotificationContext
	parallelism int
	recorder    StateRecorder

	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks
	tracer  trace.Tracer

	models *xsync.Map[string, *statemodel.StateModel]
}

// Result pairs a batch message with its dispatch outcome.
type Result struct {
	Message types.Message
	Err     error
}

// New creates an Engine.
//
// Parameters:
//   - cfg: Engine configuration; nil collaborators are replaced by no-op ones
//
// Returns:
//   - *Engine: Ready engine with no materialized partitions
func New(cfg Config) *Engine {
	e := &Engine{
		factory:     cfg.Factory,
		notify:      cfg.Notification,
		parallelism: cfg.Parallelism,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		hooks:       hooks.Fill(cfg.Hooks),
		tracer:      cfg.Tracer,
		models:      xsync.NewMap[string, *statemodel.StateModel](),
	}

	if e.notify == nil {
		e.notify = func() types.NotificationContext { return types.NotificationContext{} }
	}
	if e.parallelism < 1 {
		e.parallelism = 1
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	return e
}

// Dispatch applies a single message to its partition's state model.
//
// Returns:
//   - error: *types.TransitionError for stale, unsupported or failed
//     transitions; types.ErrInvalidMessage for malformed messages
func (e *Engine) Dispatch(ctx context.Context, msg types.Message) error {
	ctx, span := e.tracer.Start(ctx, "helix.transition",
		trace.WithAttributes(
			attribute.String("helix.message.id", msg.ID),
			attribute.String("helix.resource", msg.Resource),
			attribute.String("helix.partition", msg.Partition),
			attribute.String("helix.from_state", msg.FromState),
			attribute.String("helix.to_state", msg.ToState),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	err := e.dispatch(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

func (e *Engine) dispatch(ctx context.Context, msg types.Message) error {
	if msg.Partition == "" || msg.ToState == "" {
		return fmt.Errorf("%w: message %q has no partition or target state", types.ErrInvalidMessage, msg.ID)
	}

	model, err := e.model(msg.StateModelDef, msg.Partition)
	if err != nil {
		return fmt.Errorf("%w: message %q: %w", types.ErrInvalidMessage, msg.ID, err)
	}

	nctx := e.notify()
	nctx.ReceivedAt = time.Now()

	start := time.Now()
	err = model.Transition(ctx, msg, nctx)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		e.metrics.RecordTransition(msg.FromState, msg.ToState, ResultSuccess, elapsed)
	case errors.Is(err, types.ErrStaleMessage):
		e.metrics.RecordTransition(msg.FromState, msg.ToState, ResultStale, 0)
		return err
	case errors.Is(err, types.ErrUnsupportedTransition):
		e.metrics.RecordTransition(msg.FromState, msg.ToState, ResultUnsupported, 0)
		return err
	default:
		e.metrics.RecordTransition(msg.FromState, msg.ToState, ResultFailed, elapsed)
		return err
	}

	e.logger.Debug("partition transitioned",
		"resource", msg.Resource,
		"partition", msg.Partition,
		"from", msg.FromState,
		"to", msg.ToState,
	)

	if e.recorder != nil {
		if rerr := e.recorder(ctx, msg.Resource, model.Definition().Name(), msg.Partition, msg.ToState); rerr != nil {
			// The transition already happened; the record catches up on the next one.
			e.logger.Warn("failed to record current state",
				"partition", msg.Partition,
				"state", msg.ToState,
				"error", rerr,
			)
		}
	}

	go func() {
		if herr := e.hooks.OnTransition(ctx, msg.Partition, msg.FromState, msg.ToState); herr != nil {
			e.logger.Error("transition hook error", "partition", msg.Partition, "error", herr)
		}
	}()

	return nil
}

// DispatchBatch applies msgs, preserving slice order within each partition
// while distinct partitions may transition concurrently.
//
// Messages are sharded into lanes by xxh3(partition); each lane runs its
// messages sequentially and at most Parallelism lanes exist.
//
// Returns:
//   - []Result: One result per message, in input order
func (e *Engine) DispatchBatch(ctx context.Context, msgs []types.Message) []Result {
	results := make([]Result, len(msgs))
	if len(msgs) == 0 {
		return results
	}

	lanes := make([][]int, min(e.parallelism, len(msgs)))
	for i, msg := range msgs {
		results[i].Message = msg
		lane := xxh3.HashString(msg.Partition) % uint64(len(lanes))
		lanes[lane] = append(lanes[lane], i)
	}

	var g errgroup.Group
	g.SetLimit(len(lanes))
	for _, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		g.Go(func() error {
			for _, i := range lane {
				results[i].Err = e.Dispatch(ctx, msgs[i])
			}

			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Seed materializes partition with the definition named def (the default one
// when def is empty) and sets its state. Used to restore carried-over state
// before messages are processed.
func (e *Engine) Seed(def, partition, state string) error {
	model, err := e.model(def, partition)
	if err != nil {
		return err
	}

	return model.SetCurrentState(state)
}

// CurrentState returns the partition's state and whether the partition is materialized.
func (e *Engine) CurrentState(partition string) (string, bool) {
	model, ok := e.models.Load(partition)
	if !ok {
		return "", false
	}

	return model.CurrentState(), true
}

// Partitions returns the materialized partition names, sorted.
func (e *Engine) Partitions() []string {
	names := make([]string, 0, e.models.Size())
	e.models.Range(func(name string, _ *statemodel.StateModel) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)

	return names
}

// Reset destroys every materialized state model.
func (e *Engine) Reset() {
	e.models.Clear()
	e.metrics.RecordPartitionCount(0)
}

func (e *Engine) model(defName, partition string) (*statemodel.StateModel, error) {
	if model, ok := e.models.Load(partition); ok {
		return model, nil
	}

	created, err := e.factory.CreateStateModel(defName, partition)
	if err != nil {
		return nil, err
	}

	model, loaded := e.models.LoadOrStore(partition, created)
	if !loaded {
		e.metrics.RecordPartitionCount(e.models.Size())
	}

	return model, nil
}
