package helix

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/metrics"
)

// NewPrometheusMetrics returns a MetricsCollector that exports participant
// metrics to reg under namespace.
//
// Parameters:
//   - reg: Registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: Metric namespace ("helix" if empty)
//
// Returns:
//   - MetricsCollector: Collector for WithMetrics
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}

// NewSlogLogger adapts a slog.Logger to the Logger interface.
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewLogger builds a slog-backed Logger writing to w.
//
// Parameters:
//   - w: Destination (os.Stderr if nil)
//   - level: "debug", "info", "warn" or "error" ("info" if empty)
//   - format: "text" or "json" ("text" if empty)
//
// Returns:
//   - Logger: Logger for WithLogger
//   - error: Unknown level or format
func NewLogger(w io.Writer, level, format string) (Logger, error) {
	return logging.New(w, level, format)
}
