package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"aihub/internal/attachment"
	"aihub/internal/chat"
	"aihub/internal/config"
	"aihub/internal/domain"
	"aihub/internal/export"
	"aihub/internal/health"
	"aihub/internal/metrics"
	"aihub/internal/notify"
	"aihub/internal/provider"
	"aihub/internal/store"
)

// app holds the collaborators every command shares.
type app struct {
	cfg      *config.Config
	registry *provider.Registry
	store    *store.SQLiteStore // nil when the store is disabled
	hub      *notify.Hub
	telegram *notify.TelegramSink // nil unless enabled
	monitor  *health.Monitor
	exporter *export.FileExporter
	sessions *chat.Sessions
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry, err := provider.NewRegistry(cfg, provider.RegistryOptions{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("backends: %w", err)
	}
	a := &app{cfg: cfg, registry: registry}

	if cfg.Store.Enabled {
		st, err := store.Open(config.ExpandPath(cfg.Store.DBPath), logger)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		a.store = st
		for _, svc := range registry.Services() {
			if err := st.UpsertService(ctx, svc); err != nil {
				st.Close()
				return nil, fmt.Errorf("seed service %s: %w", svc.ID, err)
			}
		}
	}

	a.hub = notify.NewHub(notify.Config{Logger: logger})
	a.hub.AddSink(notify.NewLogSink(logger))
	if tg := cfg.Notify.Telegram; tg.Enabled && tg.Token != "" && tg.ChatID != 0 {
		sink, err := notify.NewTelegramSink(notify.TelegramConfig{
			Token:       tg.Token,
			ChatID:      tg.ChatID,
			ParseMode:   tg.ParseMode,
			MinSeverity: domain.Severity(tg.MinSeverity),
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("telegram notifications disabled", "err", err)
		} else {
			a.telegram = sink
			a.hub.AddSink(sink)
		}
	}

	monitor, err := health.New(health.Config{
		Probers:      registry.Probers(),
		Store:        a.serviceStore(),
		Notifier:     a.hub,
		Schedule:     cfg.Health.Schedule,
		ProbeTimeout: time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("health monitor: %w", err)
	}
	a.monitor = monitor

	a.exporter = export.New(export.Config{
		Dir:    config.ExpandPath(cfg.Export.Dir),
		Format: cfg.Export.Format,
		Logger: logger,
	})
	a.sessions = chat.NewSessions(a.newSession)
	return a, nil
}

// newSession restores a conversation from the store, if any, and wires it
// to the backends.
func (a *app) newSession(id string) (*chat.Session, error) {
	var initial []domain.Message
	var recorder domain.HistoryRecorder
	if a.store != nil {
		msgs, err := a.store.GetMessages(context.Background(), id, 0)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		initial = msgs
		recorder = a.store
	}

	o, err := chat.New(chat.Config{
		ConversationID: id,
		Text:           a.registry.Ollama(),
		Vision:         a.registry.Vision(),
		Transcriber:    a.transcriber(),
		Health:         a.monitor,
		Notifier:       a.hub,
		History:        recorder,
		Metrics:        metrics.Collector,
		DefaultModel:   a.cfg.Backends.Ollama.DefaultModel,
		VisionModel:    a.cfg.Backends.Ollama.VisionModel,
		Initial:        initial,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	pending := attachment.New(attachment.Config{
		Dir:    filepath.Join(config.ExpandPath(a.cfg.General.DataDir), "attachments"),
		Logger: logger,
	})
	return &chat.Session{Chat: o, Attachments: pending}, nil
}

// The helpers below keep nil adapters out of non-nil interfaces.

func (a *app) serviceStore() domain.ServiceStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) transcriber() domain.TranscriptionAdapter {
	if w := a.registry.Whisper(); w != nil {
		return w
	}
	return nil
}

func (a *app) images() domain.SynthesisAdapter {
	if c := a.registry.ComfyUI(); c != nil {
		return c
	}
	return nil
}

// pruneProbes drops probe results older than keep, once at start and then
// every six hours, until ctx is done.
func (a *app) pruneProbes(ctx context.Context, keep time.Duration) error {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := a.store.PruneProbes(ctx, time.Now().Add(-keep))
		if err != nil {
			logger.Warn("probe prune failed", "err", err)
		} else if n > 0 {
			logger.Debug("pruned probe results", "count", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases sessions, the hub and the store.
func (a *app) Close() error {
	var result *multierror.Error
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.hub.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
