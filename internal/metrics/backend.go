package metrics

import (
	"fmt"
	"time"

	"aihub/internal/domain"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// RecordBackend counts one adapter call and observes its latency. result is
// "ok" or the error kind.
func (c *MetricsCollector) RecordBackend(backend string, kind domain.ErrorKind, ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = string(kind)
	}
	c.Counter("aihub_backend_requests_total", "Backend requests by outcome",
		fmt.Sprintf(`backend=%q,result=%q`, backend, result)).Inc()
	c.Histogram("aihub_backend_latency_seconds", "Backend request latency in seconds",
		fmt.Sprintf(`backend=%q`, backend), latencyBuckets).Observe(elapsed.Seconds())
}

// SetBackendUp sets aihub_backend_up to 1 for online and 0 otherwise.
func (c *MetricsCollector) SetBackendUp(backend string, status domain.HealthStatus) {
	g := c.Gauge("aihub_backend_up", "Whether the backend answered its last probe",
		fmt.Sprintf(`backend=%q`, backend))
	if status == domain.StatusOnline {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// CountTurn counts a finished conversation turn by its final state.
func (c *MetricsCollector) CountTurn(state string) {
	c.Counter("aihub_turns_total", "Conversation turns by final state",
		fmt.Sprintf(`state=%q`, state)).Inc()
}
