package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"aihub/internal/clock"
	"aihub/internal/config"
	"aihub/internal/domain"
)

// Service kinds recorded in the service registry.
const (
	KindText          = "text"
	KindTranscription = "transcription"
	KindImage         = "image"
	KindWebUI         = "webui"
)

// RegistryOptions carries the collaborators shared by every adapter.
type RegistryOptions struct {
	Logger *slog.Logger
	Clock  clock.Clock
	Client *http.Client
}

// Registry builds the backend adapters from config and tracks every backend
// the health monitor should probe.
type Registry struct {
	logger *slog.Logger

	ollama  *Ollama
	vision  *Vision
	whisper *Whisper
	comfyui *ComfyUI

	mu      sync.RWMutex
	probers map[string]domain.Prober
	meta    map[string]serviceMeta
}

type serviceMeta struct {
	name      string
	kind      string
	baseURL   string
	autoStart bool
}

// NewRegistry creates the adapters for every enabled backend. The text
// backend is always present; disabled optional backends are nil.
func NewRegistry(cfg *config.Config, opts RegistryOptions) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	r := &Registry{
		logger:  opts.Logger,
		probers: make(map[string]domain.Prober),
		meta:    make(map[string]serviceMeta),
	}

	b := cfg.Backends
	r.ollama = NewOllama(OllamaConfig{
		APIBase:      b.Ollama.APIBase,
		DefaultModel: b.Ollama.DefaultModel,
		Timeout:      b.Ollama.Timeout(),
		Client:       opts.Client,
		Logger:       opts.Logger.With("backend", OllamaBackendID),
	})
	r.vision = NewVision(r.ollama, b.Ollama.VisionModel)
	r.add(r.ollama, b.Ollama.BackendConfig, KindText)

	if b.Whisper.Enabled {
		r.whisper = NewWhisper(WhisperConfig{
			APIBase:  b.Whisper.APIBase,
			Language: b.Whisper.Language,
			Timeout:  b.Whisper.Timeout(),
			Client:   opts.Client,
			Logger:   opts.Logger.With("backend", WhisperBackendID),
		})
		r.add(r.whisper, b.Whisper.BackendConfig, KindTranscription)
	}

	if b.ComfyUI.Enabled {
		workflow := DefaultWorkflow()
		if b.ComfyUI.WorkflowFile != "" {
			w, err := LoadWorkflow(b.ComfyUI.WorkflowFile)
			if err != nil {
				return nil, fmt.Errorf("comfyui: %w", err)
			}
			workflow = w
		}
		r.comfyui = NewComfyUI(ComfyUIConfig{
			APIBase:      b.ComfyUI.APIBase,
			Negative:     b.ComfyUI.NegativePrompt,
			PollInterval: time.Duration(b.ComfyUI.PollIntervalMs) * time.Millisecond,
			MaxWait:      time.Duration(b.ComfyUI.MaxWaitSeconds) * time.Second,
			Timeout:      b.ComfyUI.Timeout(),
			Workflow:     workflow,
			Clock:        opts.Clock,
			Client:       opts.Client,
			Logger:       opts.Logger.With("backend", ComfyUIBackendID),
		})
		r.add(r.comfyui, b.ComfyUI.BackendConfig, KindImage)
	}

	if b.OpenWebUI.Enabled {
		r.add(NewOpenWebUI(b.OpenWebUI.APIBase, opts.Logger), b.OpenWebUI, KindWebUI)
	}

	return r, nil
}

func (r *Registry) add(p domain.Prober, bc config.BackendConfig, kind string) {
	name := bc.Name
	if name == "" {
		name = p.ID()
	}
	r.probers[p.ID()] = p
	r.meta[p.ID()] = serviceMeta{name: name, kind: kind, baseURL: bc.APIBase, autoStart: bc.AutoStart}
}

// Register adds (or replaces) a monitored backend at runtime.
func (r *Registry) Register(p domain.Prober, name, kind, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[p.ID()] = p
	r.meta[p.ID()] = serviceMeta{name: name, kind: kind, baseURL: baseURL}
}

func (r *Registry) Ollama() *Ollama { return r.ollama }

func (r *Registry) Vision() *Vision { return r.vision }

// Whisper returns nil when the transcription backend is disabled.
func (r *Registry) Whisper() *Whisper { return r.whisper }

// ComfyUI returns nil when the image backend is disabled.
func (r *Registry) ComfyUI() *ComfyUI { return r.comfyui }

// Get returns the monitored backend with the given id.
func (r *Registry) Get(id string) (domain.Prober, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probers[id]
	return p, ok
}

// Probers returns every monitored backend ordered by id.
func (r *Registry) Probers() []domain.Prober {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Prober, 0, len(r.probers))
	for _, p := range r.probers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Services describes the monitored backends as registry records with an
// unknown status, ready to seed the service store.
func (r *Registry) Services() []domain.ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ServiceRecord, 0, len(r.meta))
	for id, m := range r.meta {
		out = append(out, domain.ServiceRecord{
			ID:        id,
			Name:      m.name,
			Kind:      m.kind,
			BaseURL:   m.baseURL,
			Status:    domain.StatusUnknown,
			AutoStart: m.autoStart,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
