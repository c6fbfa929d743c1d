package domain

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rank orders severities so sinks can filter by a minimum level.
func (s Severity) Rank() int {
	switch s {
	case SeveritySuccess:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	default:
		return 0
	}
}

// Notification is a toast-style message for the UI collaborator.
type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Topic       string    `json:"topic,omitempty"` // e.g. "chat", "health"
	Time        time.Time `json:"time"`
}

// Notifier accepts user-facing notifications. Implementations must not block
// the caller for long.
type Notifier interface {
	Notify(n Notification)
}
