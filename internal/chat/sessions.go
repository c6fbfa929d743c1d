package chat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"aihub/internal/attachment"
)

// Session pairs a conversation with its pending attachment buffer.
type Session struct {
	Chat        *Orchestrator
	Attachments *attachment.Manager
}

func (s *Session) ID() string { return s.Chat.ID() }

// Close releases the pending attachments and the retained images.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.Attachments.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Chat.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// SessionFactory builds the session of a conversation id.
type SessionFactory func(id string) (*Session, error)

// Sessions holds live conversations by id.
type Sessions struct {
	factory SessionFactory

	mu    sync.Mutex
	items map[string]*Session
}

func NewSessions(factory SessionFactory) *Sessions {
	return &Sessions{factory: factory, items: make(map[string]*Session)}
}

func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[id]
	return sess, ok
}

// GetOrCreate returns the live session for id, building it on first use.
func (s *Sessions) GetOrCreate(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.items[id]; ok {
		return sess, nil
	}
	sess, err := s.factory(id)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	s.items[id] = sess
	return sess, nil
}

// IDs returns the live session ids in order.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete closes and forgets a session. Unknown ids are ignored.
func (s *Sessions) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Close()
}

// Close closes every session.
func (s *Sessions) Close() error {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*Session)
	s.mu.Unlock()

	var result *multierror.Error
	for id, sess := range items {
		if err := sess.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}
