package metrics

import (
	"testing"

	"github.com/arloliu/helix/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheus(reg, "test")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordStateTransition(types.StateDisconnected, types.StateConnecting)
	p.RecordStateTransition(types.StateDisconnected, types.StateConnecting)
	p.RecordSessionStep("create-live-instance", true, 0.002)
	p.RecordSessionStep("create-live-instance", false, 0.004)
	p.RecordCarryover(3)
	p.RecordTransition("OFFLINE", "ONLINE", "success", 0.1)
	p.RecordTransition("OFFLINE", "ONLINE", "stale", 0)
	p.RecordPartitionCount(7)
	p.RecordMessage("dispatched")
	p.RecordMessage("invalid")
	p.RecordWatchRearm(true)

	require.InDelta(t, 2, testutil.ToFloat64(p.sessionTransitions.WithLabelValues("Disconnected", "Connecting")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.sessionSteps.WithLabelValues("create-live-instance", "false")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(p.carryoverTotal), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.transitions.WithLabelValues("OFFLINE", "ONLINE", "stale")), 0)
	require.InDelta(t, 7, testutil.ToFloat64(p.partitions), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.messages.WithLabelValues("invalid")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.watchRearms.WithLabelValues("true")), 0)

	// stale dispatch ran no handler, so only one latency sample exists
	require.Equal(t, 1, testutil.CollectAndCount(p.transitionLatency))
}

func TestNewPrometheus_Defaults(t *testing.T) {
	p := NewPrometheus(nil, "")

	require.Equal(t, "helix", p.namespace)
	require.Equal(t, prometheus.DefaultRegisterer, p.reg)
}
