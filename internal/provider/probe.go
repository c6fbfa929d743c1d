package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"aihub/internal/domain"
	"aihub/internal/transport"
)

const (
	OpenWebUIBackendID = "openwebui"
	openWebUIDefault   = "http://localhost:3000"
)

// HTTPProbe is a probe-only backend: it is monitored but never invoked.
type HTTPProbe struct {
	id     string
	path   string
	client *transport.Client
}

type HTTPProbeConfig struct {
	ID      string
	APIBase string
	Path    string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewHTTPProbe(cfg HTTPProbeConfig) *HTTPProbe {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &HTTPProbe{
		id:   cfg.ID,
		path: cfg.Path,
		client: transport.New(transport.Config{
			BaseURL: cfg.APIBase,
			Timeout: cfg.Timeout,
			Client:  cfg.Client,
			Logger:  cfg.Logger,
		}),
	}
}

// NewOpenWebUI monitors an Open WebUI instance through its health endpoint.
func NewOpenWebUI(apiBase string, logger *slog.Logger) *HTTPProbe {
	if apiBase == "" {
		apiBase = openWebUIDefault
	}
	return NewHTTPProbe(HTTPProbeConfig{
		ID:      OpenWebUIBackendID,
		APIBase: apiBase,
		Path:    "/api/health",
		Logger:  logger,
	})
}

func (p *HTTPProbe) ID() string { return p.id }

func (p *HTTPProbe) BaseURL() string { return p.client.BaseURL() }

func (p *HTTPProbe) Probe(ctx context.Context) domain.Outcome[domain.Unit] {
	return p.client.Ping(ctx, p.path)
}
