// Package store persists the service registry, probe metrics and chat
// history in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite"

	"aihub/internal/domain"
)

const subscriberBuffer = 32

// SQLiteStore implements domain.ServiceStore and domain.HistoryRecorder.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan domain.ServiceChange
	nextID int
	closed bool
}

var (
	_ domain.ServiceStore    = (*SQLiteStore)(nil)
	_ domain.HistoryRecorder = (*SQLiteStore)(nil)
)

func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
		subs:   make(map[int]chan domain.ServiceChange),
	}, nil
}

// Subscribe streams registry changes. Slow subscribers miss changes rather
// than block writers. The returned func unsubscribes.
func (s *SQLiteStore) Subscribe() (<-chan domain.ServiceChange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.ServiceChange, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *SQLiteStore) publish(change domain.ServiceChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- change:
		default:
			s.logger.Warn("service change dropped for slow subscriber", "subscriber", id, "service", change.Service.ID)
		}
	}
}

// Close closes every subscription and the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		result = multierror.Append(result, fmt.Errorf("checkpoint: %w", err))
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	return result.ErrorOrNil()
}

// DB exposes the handle for maintenance commands.
func (s *SQLiteStore) DB() *sql.DB { return s.db }
