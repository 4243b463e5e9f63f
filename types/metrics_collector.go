package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	SessionMetrics
	EngineMetrics
	ChannelMetrics
}

// SessionMetrics defines metrics for session establishment.
type SessionMetrics interface {
	// RecordStateTransition records a session state transition.
	RecordStateTransition(from, to SessionState)

	// RecordSessionStep records the outcome of one bootstrap pipeline step.
	//
	// Parameters:
	//   - step: Step name ("ensure-no-live-instance", "create-live-instance", ...)
	//   - success: true if the step completed
	//   - duration: Time taken in seconds
	RecordSessionStep(step string, success bool, duration float64)

	// RecordCarryover records the number of partitions carried from prior sessions.
	RecordCarryover(partitions int)
}

// EngineMetrics defines metrics for transition dispatch.
type EngineMetrics interface {
	// RecordTransition records a dispatch outcome.
	//
	// Parameters:
	//   - from, to: Requested transition
	//   - result: "success", "stale", "unsupported" or "failed"
	//   - duration: Handler time in seconds (0 when no handler ran)
	RecordTransition(from, to, result string, duration float64)

	// RecordPartitionCount sets the number of materialized state models (gauge).
	RecordPartitionCount(count int)
}

// ChannelMetrics defines metrics for the message channel.
type ChannelMetrics interface {
	// RecordMessage records a handled message by result ("dispatched", "failed", "invalid", "stale").
	RecordMessage(result string)

	// RecordWatchRearm records a watch re-arm attempt.
	RecordWatchRearm(success bool)
}
