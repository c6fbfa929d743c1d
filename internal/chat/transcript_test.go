package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aihub/internal/domain"
)

type memExporter struct {
	conv string
	data []byte
	err  error
}

func (m *memExporter) Export(_ context.Context, conversationID string, transcript []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.conv = conversationID
	m.data = append([]byte(nil), transcript...)
	return "/tmp/chat_export.txt", nil
}

func at(h, m, s int) time.Time {
	return time.Date(2026, 3, 4, h, m, s, 0, time.UTC)
}

// --- Formatting ---

func TestFormatTranscript(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hello", Timestamp: at(9, 5, 1)},
		{Role: domain.RoleAssistant, Content: "hi there", Timestamp: at(9, 5, 7)},
	}
	want := "User (09:05:01): hello\n\nAssistant (09:05:07): hi there"
	if got := string(FormatTranscript(msgs)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := FormatTranscript(nil); len(got) != 0 {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestParseTranscript_RoundTrip(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "what is this?\n\nAudio transcription: a cat", Timestamp: at(23, 59, 58)},
		{Role: domain.RoleAssistant, Content: "A cat on a mat.", Timestamp: at(23, 59, 59)},
		{Role: domain.RoleUser, Content: "thanks", Timestamp: at(0, 0, 3)},
	}
	got, err := ParseTranscript(FormatTranscript(msgs))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role || got[i].Content != msgs[i].Content {
			t.Fatalf("message %d: expected %s %q, got %s %q", i, msgs[i].Role, msgs[i].Content, got[i].Role, got[i].Content)
		}
		if got[i].Timestamp.Format("15:04:05") != msgs[i].Timestamp.Format("15:04:05") {
			t.Fatalf("message %d: expected time %s, got %s", i, msgs[i].Timestamp.Format("15:04:05"), got[i].Timestamp.Format("15:04:05"))
		}
	}
}

func TestParseTranscript_TrailingNewlinesAndEmptyContent(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hi", Timestamp: at(10, 0, 0)},
		{Role: domain.RoleAssistant, Content: "Hello there!\n", Timestamp: at(10, 0, 1)},
		{Role: domain.RoleUser, Content: "", Timestamp: at(10, 0, 2)},
		{Role: domain.RoleAssistant, Content: "a list:\n\n\n- one\nUser (10:00:03): quoted", Timestamp: at(10, 0, 3)},
		{Role: domain.RoleUser, Content: "again\n\n", Timestamp: at(10, 0, 4)},
	}
	got, err := ParseTranscript(FormatTranscript(msgs))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d: %+v", len(msgs), len(got), got)
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role || got[i].Content != msgs[i].Content {
			t.Fatalf("message %d: expected %s %q, got %s %q", i, msgs[i].Role, msgs[i].Content, got[i].Role, got[i].Content)
		}
	}
}

func TestParseTranscript_Errors(t *testing.T) {
	if msgs, err := ParseTranscript([]byte("  \n")); err != nil || msgs != nil {
		t.Fatalf("expected nil for blank input, got %v, %v", msgs, err)
	}
	if _, err := ParseTranscript([]byte("random text\n\nUser (10:00:00): hi")); err == nil {
		t.Fatal("expected error for missing header")
	}
}

// --- Export ---

func TestOrchestratorExport(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.chat.Submit(context.Background(), Turn{Text: "hello"}, f.pending); err != nil {
		t.Fatal(err)
	}

	exp := &memExporter{}
	path, err := f.chat.Export(context.Background(), exp)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if path == "" || exp.conv != "conv-1" {
		t.Fatalf("unexpected export target %q for %q", path, exp.conv)
	}
	lines := strings.Split(string(exp.data), "\n\n")
	if len(lines) != 2 || lines[0] != "User (10:11:12): hello" || lines[1] != "Assistant (10:11:12): text reply" {
		t.Fatalf("unexpected transcript %q", exp.data)
	}

	exp.err = errors.New("disk full")
	if _, err := f.chat.Export(context.Background(), exp); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected wrapped export error, got %v", err)
	}
}
