// Package attachment owns the media a user attaches to a pending message
// and guarantees that every temporary locator is released exactly once.
package attachment

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"aihub/internal/domain"
)

var (
	ErrIndexOutOfRange = errors.New("attachment index out of range")
	ErrClosed          = errors.New("attachment manager closed")
)

type Config struct {
	Dir    string // temp directory for spooled payloads; "" = os.TempDir()
	Logger *slog.Logger
}

// Manager holds the pending attachment set of one conversation.
type Manager struct {
	mu      sync.Mutex
	pending []domain.Attachment
	closed  bool
	dir     string
	logger  *slog.Logger
}

func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{dir: cfg.Dir, logger: cfg.Logger}
}

// Add spools data to a temporary locator and appends it to the pending set.
func (m *Manager) Add(kind domain.AttachmentKind, name, mimeType string, data []byte) (domain.Attachment, error) {
	loc, err := NewTempLocator(m.dir, name, data)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		Kind:        kind,
		Locator:     loc,
		DisplayName: name,
		Payload:     data,
		MimeType:    mimeType,
	}
	if err := m.Attach(a); err != nil {
		_ = loc.Release()
		return domain.Attachment{}, err
	}
	return a, nil
}

// Attach appends an already built attachment. The manager takes ownership
// of its locator.
func (m *Manager) Attach(a domain.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending = append(m.pending, a)
	m.logger.Debug("attachment added", "kind", a.Kind, "name", a.DisplayName, "pending", len(m.pending))
	return nil
}

// Remove drops the attachment at index and releases its locator at once.
func (m *Manager) Remove(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.pending) {
		n := len(m.pending)
		m.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, n)
	}
	a := m.pending[index]
	m.pending = append(m.pending[:index:index], m.pending[index+1:]...)
	m.mu.Unlock()

	if a.Locator == nil {
		return nil
	}
	if err := a.Locator.Release(); err != nil {
		return fmt.Errorf("release %s: %w", a.DisplayName, err)
	}
	return nil
}

// List returns a copy of the pending set in insertion order.
func (m *Manager) List() []domain.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Attachment, len(m.pending))
	copy(out, m.pending)
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Take hands the whole pending set to one turn and leaves the manager empty.
func (m *Manager) Take() *Handoff {
	m.mu.Lock()
	items := m.pending
	m.pending = nil
	m.mu.Unlock()
	return NewHandoff(items)
}

// Close releases everything still pending. Later Adds fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	items := m.pending
	m.pending = nil
	m.closed = true
	m.mu.Unlock()
	return releaseAll(items, nil)
}

// Handoff is the pending set owned by one turn.
type Handoff struct {
	items    []domain.Attachment
	mu       sync.Mutex
	retained map[domain.Locator]struct{}
	once     sync.Once
	err      error
}

// NewHandoff wraps attachments that never went through a Manager.
func NewHandoff(items []domain.Attachment) *Handoff {
	return &Handoff{items: items, retained: make(map[domain.Locator]struct{})}
}

// Attachments returns the handed-off attachments in insertion order.
func (h *Handoff) Attachments() []domain.Attachment {
	out := make([]domain.Attachment, len(h.items))
	copy(out, h.items)
	return out
}

func (h *Handoff) Empty() bool { return len(h.items) == 0 }

// Retain marks locators kept alive by the final message. They are not
// released by Release; their new owner must release them.
func (h *Handoff) Retain(locs ...domain.Locator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range locs {
		if l != nil {
			h.retained[l] = struct{}{}
		}
	}
}

// Release releases every locator that was not retained. Only the first
// call does any work.
func (h *Handoff) Release() error {
	h.once.Do(func() {
		h.mu.Lock()
		retained := h.retained
		h.mu.Unlock()
		h.err = releaseAll(h.items, retained)
	})
	return h.err
}

func releaseAll(items []domain.Attachment, skip map[domain.Locator]struct{}) error {
	var result *multierror.Error
	for _, a := range items {
		if a.Locator == nil {
			continue
		}
		if _, ok := skip[a.Locator]; ok {
			continue
		}
		if err := a.Locator.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release %s: %w", a.DisplayName, err))
		}
	}
	return result.ErrorOrNil()
}
