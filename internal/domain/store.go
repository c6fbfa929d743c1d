package domain

import (
	"context"
	"time"
)

// ServiceRecord is the persisted registry entry of one backend service.
type ServiceRecord struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Kind          string       `json:"kind"` // text | transcription | image | webui
	BaseURL       string       `json:"base_url"`
	Status        HealthStatus `json:"status"`
	AutoStart     bool         `json:"auto_start"`
	LastCheckedAt *time.Time   `json:"last_checked_at,omitempty"`
	LastLatencyMs *int64       `json:"last_latency_ms,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ProbeRecord is one probe result kept for metrics.
type ProbeRecord struct {
	ID        int64        `json:"id"`
	ServiceID string       `json:"service_id"`
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latency_ms"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeStatus ChangeOp = "status"
	ChangeDelete ChangeOp = "delete"
)

// ServiceChange is emitted by the store after each registry write.
type ServiceChange struct {
	Op      ChangeOp      `json:"op"`
	Service ServiceRecord `json:"service"`
}

// ServiceStore is the persistence collaborator for the service registry and
// probe metrics.
type ServiceStore interface {
	ListServices(ctx context.Context) ([]ServiceRecord, error)
	GetService(ctx context.Context, id string) (*ServiceRecord, error)
	UpsertService(ctx context.Context, svc ServiceRecord) error
	UpdateServiceStatus(ctx context.Context, h AdapterHealth) error
	DeleteService(ctx context.Context, id string) error
	RecordProbe(ctx context.Context, rec ProbeRecord) error
	RecentProbes(ctx context.Context, serviceID string, limit int) ([]ProbeRecord, error)
	Subscribe() (<-chan ServiceChange, func())
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryRecorder receives every message appended to a conversation.
type HistoryRecorder interface {
	RecordMessage(ctx context.Context, conversationID string, msg Message) error
}

// Exporter persists a serialized transcript outside the process.
type Exporter interface {
	Export(ctx context.Context, conversationID string, transcript []byte) (string, error)
}
