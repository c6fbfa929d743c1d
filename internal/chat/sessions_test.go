package chat

import (
	"context"
	"errors"
	"testing"

	"aihub/internal/attachment"
	"aihub/internal/domain"
)

func newTestSessions(t *testing.T) (*Sessions, *int) {
	t.Helper()
	created := 0
	factory := func(id string) (*Session, error) {
		if id == "broken" {
			return nil, errors.New("no backend")
		}
		created++
		o, err := New(Config{
			ConversationID: id,
			Text:           &fakeAdapter[domain.TextRequest, string]{id: "ollama", out: domain.Success("ok")},
			Logger:         testLogger(),
		})
		if err != nil {
			return nil, err
		}
		return &Session{Chat: o, Attachments: attachment.New(attachment.Config{Dir: t.TempDir(), Logger: testLogger()})}, nil
	}
	return NewSessions(factory), &created
}

func TestSessions_GetOrCreateReuses(t *testing.T) {
	s, created := newTestSessions(t)
	defer s.Close()

	a, err := s.GetOrCreate("a")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetOrCreate("a")
	if a != again || *created != 1 {
		t.Fatalf("expected the same session, created %d", *created)
	}
	if a.ID() != "a" {
		t.Fatalf("expected id a, got %q", a.ID())
	}
	if _, err := s.GetOrCreate("broken"); err == nil {
		t.Fatal("expected factory error")
	}
	if _, ok := s.Get("broken"); ok {
		t.Fatal("failed sessions must not be stored")
	}
}

func TestSessions_IDsAndDelete(t *testing.T) {
	s, _ := newTestSessions(t)
	defer s.Close()

	for _, id := range []string{"b", "a", "c"} {
		if _, err := s.GetOrCreate(id); err != nil {
			t.Fatal(err)
		}
	}
	ids := s.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}

	sess, _ := s.Get("b")
	if _, err := sess.Attachments.Add(domain.AttachmentImage, "x.png", "image/png", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("b"); ok {
		t.Fatal("expected b to be gone")
	}
	if sess.Attachments.Len() != 0 {
		t.Fatal("expected pending attachments released on delete")
	}
	if _, err := sess.Attachments.Add(domain.AttachmentImage, "y.png", "", []byte("y")); !errors.Is(err, attachment.ErrClosed) {
		t.Fatalf("expected closed manager, got %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("unknown ids are ignored, got %v", err)
	}
}

func TestSessions_Close(t *testing.T) {
	s, _ := newTestSessions(t)
	a, _ := s.GetOrCreate("a")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(s.IDs()) != 0 {
		t.Fatal("expected no sessions after close")
	}
	if _, err := a.Chat.Submit(context.Background(), Turn{Text: "late"}, a.Attachments); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed conversation, got %v", err)
	}
}
