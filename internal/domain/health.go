package domain

import "time"

type HealthStatus string

const (
	StatusUnknown  HealthStatus = "unknown"
	StatusChecking HealthStatus = "checking"
	StatusOnline   HealthStatus = "online"
	StatusOffline  HealthStatus = "offline"
)

// AdapterHealth is the availability record of one backend. Only the health
// monitor writes it; everyone else reads copies.
type AdapterHealth struct {
	BackendID     string       `json:"backend_id"`
	Status        HealthStatus `json:"status"`
	LastCheckedAt time.Time    `json:"last_checked_at,omitzero"`
	LastLatencyMs *int64       `json:"last_latency_ms,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
}

// HealthSnapshot is a point-in-time copy of every backend's health, ordered
// by backend id.
type HealthSnapshot []AdapterHealth

// Status returns the status recorded for id, or StatusUnknown.
func (s HealthSnapshot) Status(id string) HealthStatus {
	for _, h := range s {
		if h.BackendID == id {
			return h.Status
		}
	}
	return StatusUnknown
}

// Online counts backends currently online.
func (s HealthSnapshot) Online() int {
	n := 0
	for _, h := range s {
		if h.Status == StatusOnline {
			n++
		}
	}
	return n
}

// HealthReader is the read side of the health monitor consulted by the
// orchestrator.
type HealthReader interface {
	Status(backendID string) HealthStatus
}
