package provider

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aihub/internal/domain"
	"aihub/internal/transport"
)

const (
	OllamaBackendID    = "ollama"
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3:8b"
)

// Ollama is the text-generation adapter for an Ollama server.
type Ollama struct {
	client       *transport.Client
	defaultModel string
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Timeout      time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		client: transport.New(transport.Config{
			BaseURL: cfg.APIBase,
			Timeout: cfg.Timeout,
			Client:  cfg.Client,
			Logger:  cfg.Logger,
		}),
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) ID() string { return OllamaBackendID }

func (o *Ollama) DefaultModel() string { return o.defaultModel }

func (o *Ollama) BaseURL() string { return o.client.BaseURL() }

// Probe lists local models; any valid JSON answer counts as alive.
func (o *Ollama) Probe(ctx context.Context) domain.Outcome[domain.Unit] {
	out := o.client.Request(ctx, "/api/tags", http.MethodGet, nil, nil)
	if !out.OK {
		return domain.Recast[domain.Unit](out)
	}
	return domain.Success(domain.Unit{})
}

// OllamaModel is one entry of GET /api/tags.
type OllamaModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModifiedAt string `json:"modified_at"`
}

// ListModels returns the models installed on the server.
func (o *Ollama) ListModels(ctx context.Context) domain.Outcome[[]OllamaModel] {
	out := transport.Decode[struct {
		Models []OllamaModel `json:"models"`
	}](o.client.Request(ctx, "/api/tags", http.MethodGet, nil, nil))
	if !out.OK {
		return domain.Recast[[]OllamaModel](out)
	}
	models := out.Value.Models
	if models == nil {
		models = []OllamaModel{}
	}
	return domain.Success(models)
}

// ollamaGenerateRequest matches the Ollama /api/generate request body.
type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type ollamaGenerateResponse struct {
	Model      string `json:"model"`
	CreatedAt  string `json:"created_at"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

// Invoke runs a single non-streaming generation.
func (o *Ollama) Invoke(ctx context.Context, req domain.TextRequest) domain.Outcome[string] {
	return o.generate(ctx, req.Model, req.Prompt, nil)
}

func (o *Ollama) generate(ctx context.Context, model, prompt string, images []string) domain.Outcome[string] {
	if model == "" {
		model = o.defaultModel
	}
	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Images: images,
	}

	start := time.Now()
	out := transport.Decode[ollamaGenerateResponse](
		o.client.Request(ctx, "/api/generate", http.MethodPost, body, nil),
	)
	if !out.OK {
		o.logger.Warn("ollama generate failed", "model", model, "kind", out.Kind, "err", out.Message)
		return domain.Recast[string](out)
	}
	if msg := strings.TrimSpace(out.Value.Error); msg != "" {
		return domain.Failure[string](domain.ErrBackendRejected, "%s", msg)
	}

	o.logger.Debug("ollama generate complete",
		"model", model,
		"images", len(images),
		"done_reason", out.Value.DoneReason,
		"latency", time.Since(start),
	)
	return domain.Success(out.Value.Response)
}

// Vision is the image-augmented generation adapter. It reuses the Ollama
// request shape with the image attached as base64.
type Vision struct {
	text         *Ollama
	defaultModel string
}

func NewVision(text *Ollama, defaultModel string) *Vision {
	if defaultModel == "" {
		defaultModel = text.defaultModel
	}
	return &Vision{text: text, defaultModel: defaultModel}
}

// ID shares the text adapter's backend: both talk to the same server.
func (v *Vision) ID() string { return v.text.ID() }

func (v *Vision) DefaultModel() string { return v.defaultModel }

func (v *Vision) Probe(ctx context.Context) domain.Outcome[domain.Unit] {
	return v.text.Probe(ctx)
}

func (v *Vision) Invoke(ctx context.Context, req domain.VisionRequest) domain.Outcome[string] {
	model := req.Model
	if model == "" {
		model = v.defaultModel
	}
	var images []string
	if len(req.Image) > 0 {
		images = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}
	return v.text.generate(ctx, model, req.Prompt, images)
}
