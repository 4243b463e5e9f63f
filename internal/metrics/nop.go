package metrics

import "github.com/arloliu/helix/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	mgr, err := helix.NewManager(&cfg, client, factory, helix.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// SessionMetrics implementation

// RecordStateTransition discards the session state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.SessionState) {}

// RecordSessionStep discards the pipeline step metric.
func (n *NopMetrics) RecordSessionStep(_ /* step */ string, _ /* success */ bool, _ /* duration */ float64) {
}

// RecordCarryover discards the carryover metric.
func (n *NopMetrics) RecordCarryover(_ /* partitions */ int) {}

// EngineMetrics implementation

// RecordTransition discards the dispatch outcome metric.
func (n *NopMetrics) RecordTransition(_ /* from */, _ /* to */, _ /* result */ string, _ /* duration */ float64) {
}

// RecordPartitionCount discards the partition gauge.
func (n *NopMetrics) RecordPartitionCount(_ /* count */ int) {}

// ChannelMetrics implementation

// RecordMessage discards the message outcome metric.
func (n *NopMetrics) RecordMessage(_ /* result */ string) {}

// RecordWatchRearm discards the watch re-arm metric.
func (n *NopMetrics) RecordWatchRearm(_ /* success */ bool) {}
