package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aihub/internal/attachment"
	"aihub/internal/domain"
)

const titleMaxRunes = 60

// storedAttachment is the persisted form of an attachment reference. Bytes
// are never stored.
type storedAttachment struct {
	Kind     domain.AttachmentKind `json:"kind"`
	Name     string                `json:"name"`
	MimeType string                `json:"mime_type,omitempty"`
	URI      string                `json:"uri,omitempty"`
}

// EnsureConversation creates the conversation if it does not exist yet.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, conv domain.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

// GetConversation returns nil, nil when id is unknown.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var title, model sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &title, &model, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.Title = title.String
	conv.Model = model.String
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var title, model sql.NullString
		if err := rows.Scan(&c.ID, &title, &model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Title = title.String
		c.Model = model.String
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// RecordMessage appends msg to the conversation, creating the conversation
// on first use. The first user message becomes its title.
func (s *SQLiteStore) RecordMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var title string
	if msg.Role == domain.RoleUser {
		title = conversationTitle(msg.Content)
	}
	if err := s.EnsureConversation(ctx, domain.Conversation{ID: conversationID, Title: title, Model: msg.Model, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		return fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}

	atts, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, model, attachments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Role, msg.Content, msg.Model, atts, ts,
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ?,
		   title = CASE WHEN COALESCE(title, '') = '' THEN ? ELSE title END,
		   model = CASE WHEN ? <> '' THEN ? ELSE model END
		 WHERE id = ?`,
		ts, title, msg.Model, msg.Model, conversationID,
	)
	return nil
}

// GetMessages returns the last limit messages in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, model, attachments, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var content, model, atts sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &content, &model, &atts, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.Model = model.String
		m.Attachments = decodeAttachments(atts.String)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages of %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func encodeAttachments(atts []domain.Attachment) (sql.NullString, error) {
	if len(atts) == 0 {
		return sql.NullString{}, nil
	}
	stored := make([]storedAttachment, 0, len(atts))
	for _, a := range atts {
		stored = append(stored, storedAttachment{Kind: a.Kind, Name: a.DisplayName, MimeType: a.MimeType, URI: a.URI()})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode attachments: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeAttachments restores references only; locators read back from the
// database are never released by this process.
func decodeAttachments(raw string) []domain.Attachment {
	if raw == "" {
		return nil
	}
	var stored []storedAttachment
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil
	}
	out := make([]domain.Attachment, 0, len(stored))
	for _, s := range stored {
		a := domain.Attachment{Kind: s.Kind, DisplayName: s.Name, MimeType: s.MimeType}
		if s.URI != "" {
			a.Locator = attachment.RemoteLocator(s.URI)
		}
		out = append(out, a)
	}
	return out
}

func conversationTitle(content string) string {
	title := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes-1]) + "…"
	}
	return title
}
