package helix

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks     *Hooks
	metrics   MetricsCollector
	logger    Logger
	tracer    trace.Tracer
	callbacks []func(ctx context.Context) error
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &helix.Hooks{
//	    OnTransition: func(ctx context.Context, partition, from, to string) error {
//	        return audit(partition, from, to)
//	    },
//	}
//	mgr, err := helix.NewManager(&cfg, client, factory, helix.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	mgr, err := helix.NewManager(&cfg, client, factory, helix.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithTracer sets the tracer used for transition spans.
//
// Defaults to the global OpenTelemetry tracer provider, which is a no-op
// unless the application installs one.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *managerOptions) {
		o.tracer = tracer
	}
}

// WithPreConnectCallbacks registers callbacks that run before the live
// instance node is created on every session establishment.
//
// Equivalent to calling Manager.AddPreConnectCallback for each callback in order.
func WithPreConnectCallbacks(callbacks ...func(ctx context.Context) error) Option {
	return func(o *managerOptions) {
		o.callbacks = append(o.callbacks, callbacks...)
	}
}
