package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGroup_StopsOnContextCancel(t *testing.T) {
	g := NewGroup(testLogger())
	stopped := make(chan string, 2)
	for _, name := range []string{"a", "b"} {
		g.Go(name, func(ctx context.Context) error {
			<-ctx.Done()
			stopped <- name
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop")
	}
	if len(stopped) != 2 {
		t.Fatalf("expected both services stopped, got %d", len(stopped))
	}
}

func TestGroup_FailureCancelsOthers(t *testing.T) {
	g := NewGroup(testLogger())
	g.Go("api", func(ctx context.Context) error { return errors.New("bind: address in use") })
	g.Go("health", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := g.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "api: bind: address in use") {
		t.Fatalf("expected api failure, got %v", err)
	}
}

func TestGroup_DoneServiceKeepsOthersRunning(t *testing.T) {
	g := NewGroup(testLogger())
	g.Go("oneshot", func(ctx context.Context) error { return nil })
	ran := make(chan struct{})
	g.Go("long", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return errors.New("cancelled too early")
		case <-time.After(50 * time.Millisecond):
			close(ran)
			return nil
		}
	})
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	<-ran
}

func TestGroup_ClosesInReverseAndMergesErrors(t *testing.T) {
	g := NewGroup(testLogger())
	var order []string
	g.OnClose("store", func() error {
		order = append(order, "store")
		return errors.New("db locked")
	})
	g.OnClose("hub", func() error {
		order = append(order, "hub")
		return nil
	})
	g.Go("panicky", func(ctx context.Context) error { panic("boom") })

	err := g.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "panicky: panic: boom") || !strings.Contains(msg, "close store: db locked") {
		t.Fatalf("expected merged errors, got %q", msg)
	}
	if len(order) != 2 || order[0] != "hub" || order[1] != "store" {
		t.Fatalf("expected reverse close order, got %v", order)
	}
}
