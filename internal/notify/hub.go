// Package notify fans user-facing notifications out to sinks and live
// subscribers.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"aihub/internal/domain"
)

const (
	defaultHistory   = 200
	subscriberBuffer = 64
)

// Sink delivers notifications somewhere outside the process.
type Sink interface {
	Name() string
	Deliver(n domain.Notification)
}

// Hub is a domain.Notifier that dispatches to named sinks in registration
// order and to channel subscribers. It keeps a bounded history for replay.
type Hub struct {
	mu         sync.RWMutex
	sinks      []Sink
	subs       map[int]chan domain.Notification
	nextID     int
	history    []domain.Notification
	maxHistory int
	closed     bool
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.Notifier = (*Hub)(nil)

type Config struct {
	MaxHistory int
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewHub(cfg Config) *Hub {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		subs:       make(map[int]chan domain.Notification),
		maxHistory: cfg.MaxHistory,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// AddSink registers a sink. A sink with the same name replaces the old one.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.sinks {
		if existing.Name() == s.Name() {
			h.sinks[i] = s
			return
		}
	}
	h.sinks = append(h.sinks, s)
}

func (h *Hub) RemoveSink(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.sinks {
		if s.Name() == name {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			return
		}
	}
}

// Sinks returns the registered sink names.
func (h *Hub) Sinks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.sinks))
	for _, s := range h.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Subscribe returns a channel receiving every notification from now on.
// Slow subscribers miss notifications instead of blocking Notify.
func (h *Hub) Subscribe() (<-chan domain.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.Notification, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Notify stamps n, records it and dispatches it. Sink panics are recovered
// and logged.
func (h *Hub) Notify(n domain.Notification) {
	if n.Time.IsZero() {
		n.Time = h.now()
	}
	if n.Severity == "" {
		n.Severity = domain.SeverityInfo
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Warn("notification after close", "title", n.Title)
		return
	}
	if len(h.history) >= h.maxHistory {
		h.history = h.history[1:]
	}
	h.history = append(h.history, n)
	sinks := make([]Sink, len(h.sinks))
	copy(sinks, h.sinks)
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("notification dropped for slow subscriber", "subscriber", id, "title", n.Title)
		}
	}
	h.mu.Unlock()

	for _, s := range sinks {
		func(s Sink) {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("notification sink panic", "sink", s.Name(), "panic", r)
				}
			}()
			s.Deliver(n)
		}(s)
	}
}

// Replay returns recorded notifications at or after since, optionally
// filtered by topic ("" or "*" for all).
func (h *Hub) Replay(topic string, since time.Time) []domain.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []domain.Notification
	for _, n := range h.history {
		if n.Time.Before(since) {
			continue
		}
		if topic == "" || topic == "*" || n.Topic == topic {
			result = append(result, n)
		}
	}
	return result
}

func (h *Hub) HistoryLen() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.history)
}

// Close ends every subscription. Later notifications are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
