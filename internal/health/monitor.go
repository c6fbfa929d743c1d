// Package health probes every backend on a schedule and keeps the
// availability model the orchestrator consults.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"aihub/internal/clock"
	"aihub/internal/domain"
	"aihub/internal/metrics"
)

const (
	DefaultSchedule     = "@every 30s"
	defaultProbeTimeout = 5 * time.Second
	subscriberBuffer    = 32
)

var ErrUnknownBackend = errors.New("unknown backend")

type Config struct {
	Probers      []domain.Prober
	Store        domain.ServiceStore // optional
	Notifier     domain.Notifier     // optional
	Metrics      *metrics.MetricsCollector
	Clock        clock.Clock
	Schedule     string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Monitor owns the AdapterHealth of every registered backend. Readers get
// copies; only probes write.
type Monitor struct {
	probers  map[string]domain.Prober
	ids      []string
	store    domain.ServiceStore
	notifier domain.Notifier
	metrics  *metrics.MetricsCollector
	clock    clock.Clock
	schedule cron.Schedule
	timeout  time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	health map[string]domain.AdapterHealth
	subs   map[int]chan domain.AdapterHealth
	nextID int
}

var _ domain.HealthReader = (*Monitor)(nil)

func New(cfg Config) (*Monitor, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Collector
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", cfg.Schedule, err)
	}

	m := &Monitor{
		probers:  make(map[string]domain.Prober, len(cfg.Probers)),
		store:    cfg.Store,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		schedule: sched,
		timeout:  cfg.ProbeTimeout,
		logger:   cfg.Logger,
		health:   make(map[string]domain.AdapterHealth, len(cfg.Probers)),
		subs:     make(map[int]chan domain.AdapterHealth),
	}
	for _, p := range cfg.Probers {
		id := p.ID()
		if _, dup := m.probers[id]; dup {
			return nil, fmt.Errorf("duplicate backend %q", id)
		}
		m.probers[id] = p
		m.ids = append(m.ids, id)
		m.health[id] = domain.AdapterHealth{BackendID: id, Status: domain.StatusUnknown}
	}
	sort.Strings(m.ids)
	return m, nil
}

// Status implements domain.HealthReader.
func (m *Monitor) Status(backendID string) domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[backendID]; ok {
		return h.Status
	}
	return domain.StatusUnknown
}

// Get returns a copy of one backend's health.
func (m *Monitor) Get(backendID string) (domain.AdapterHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[backendID]
	return copyHealth(h), ok
}

// Snapshot returns a copy of every backend's health ordered by id.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(domain.HealthSnapshot, 0, len(m.ids))
	for _, id := range m.ids {
		snap = append(snap, copyHealth(m.health[id]))
	}
	return snap
}

// Subscribe streams every health change. Slow subscribers miss changes.
func (m *Monitor) Subscribe() (<-chan domain.AdapterHealth, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan domain.AdapterHealth, subscriberBuffer)
	id := m.nextID
	m.nextID++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Check probes one backend. A check for a backend whose probe is already in
// flight waits for that probe instead of starting another.
func (m *Monitor) Check(ctx context.Context, backendID string) (domain.AdapterHealth, error) {
	p, ok := m.probers[backendID]
	if !ok {
		return domain.AdapterHealth{}, fmt.Errorf("%w %q", ErrUnknownBackend, backendID)
	}

	ch := m.group.DoChan(backendID, func() (any, error) {
		// The probe outlives any single caller so joined callers still get
		// a result.
		return m.probe(context.WithoutCancel(ctx), p), nil
	})
	select {
	case <-ctx.Done():
		return domain.AdapterHealth{}, ctx.Err()
	case res := <-ch:
		return res.Val.(domain.AdapterHealth), nil
	}
}

// CheckAll probes every backend concurrently and returns the resulting
// snapshot.
func (m *Monitor) CheckAll(ctx context.Context) domain.HealthSnapshot {
	var g errgroup.Group
	for _, id := range m.ids {
		g.Go(func() error {
			if _, err := m.Check(ctx, id); err != nil {
				m.logger.Debug("health check abandoned", "backend", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return m.Snapshot()
}

// Run checks every backend once, then again at each scheduled time, until
// ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started", "backends", len(m.ids))
	m.CheckAll(ctx)
	for {
		now := m.clock.Now()
		wait := m.schedule.Next(now).Sub(now)
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return nil
		case <-m.clock.After(wait):
			m.CheckAll(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p domain.Prober) domain.AdapterHealth {
	id := p.ID()

	m.mu.Lock()
	prev := m.health[id]
	checking := prev
	checking.Status = domain.StatusChecking
	m.health[id] = checking
	m.mu.Unlock()
	m.broadcast(checking)

	start := m.clock.Now()
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	outcome := p.Probe(pctx)
	cancel()
	end := m.clock.Now()
	latency := end.Sub(start).Milliseconds()

	next := domain.AdapterHealth{
		BackendID:     id,
		Status:        domain.StatusOnline,
		LastCheckedAt: end,
		LastLatencyMs: &latency,
	}
	if !outcome.OK {
		next.Status = domain.StatusOffline
		next.LastLatencyMs = nil
		next.LastError = outcome.Err().Error()
	}

	m.mu.Lock()
	m.health[id] = next
	m.mu.Unlock()
	m.broadcast(next)

	m.metrics.SetBackendUp(id, next.Status)
	m.persist(ctx, next, outcome, latency)
	m.announce(prev.Status, next)

	m.logger.Debug("backend probed", "backend", id, "status", next.Status, "latency_ms", latency)
	return copyHealth(next)
}

func (m *Monitor) persist(ctx context.Context, h domain.AdapterHealth, outcome domain.Outcome[domain.Unit], latency int64) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateServiceStatus(ctx, h); err != nil {
		m.logger.Warn("cannot store backend status", "backend", h.BackendID, "err", err)
	}
	rec := domain.ProbeRecord{
		ServiceID: h.BackendID,
		Status:    h.Status,
		LatencyMs: latency,
		ErrorKind: outcome.Kind,
		Message:   outcome.Message,
		CheckedAt: h.LastCheckedAt,
	}
	if err := m.store.RecordProbe(ctx, rec); err != nil {
		m.logger.Warn("cannot store probe result", "backend", h.BackendID, "err", err)
	}
}

func (m *Monitor) announce(prev domain.HealthStatus, h domain.AdapterHealth) {
	if m.notifier == nil {
		return
	}
	switch {
	case prev == domain.StatusOnline && h.Status == domain.StatusOffline:
		m.logger.Warn("backend went offline", "backend", h.BackendID, "err", h.LastError)
		m.notifier.Notify(domain.Notification{
			Title:       h.BackendID + " is offline",
			Description: h.LastError,
			Severity:    domain.SeverityWarning,
			Topic:       "health",
		})
	case prev == domain.StatusOffline && h.Status == domain.StatusOnline:
		m.logger.Info("backend recovered", "backend", h.BackendID)
		m.notifier.Notify(domain.Notification{
			Title:    h.BackendID + " is back online",
			Severity: domain.SeverityInfo,
			Topic:    "health",
		})
	}
}

func (m *Monitor) broadcast(h domain.AdapterHealth) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- copyHealth(h):
		default:
			m.logger.Warn("health change dropped for slow subscriber", "subscriber", id, "backend", h.BackendID)
		}
	}
}

func copyHealth(h domain.AdapterHealth) domain.AdapterHealth {
	if h.LastLatencyMs != nil {
		v := *h.LastLatencyMs
		h.LastLatencyMs = &v
	}
	return h
}
