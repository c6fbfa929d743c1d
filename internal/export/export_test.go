package export

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var transcript = []byte("User (10:00:00): hello <script>alert(1)</script>\n\nAssistant (10:00:01): **hi** there")

func fixedNow() time.Time { return time.UnixMilli(1700000000123) }

func TestExport_Text(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Dir: dir, Now: fixedNow, Logger: testLogger()})

	path, err := e.Export(context.Background(), "conv-1", transcript)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "chat_export_1700000000123.txt" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	data, _ := os.ReadFile(path)
	if string(data) != string(transcript) {
		t.Fatalf("expected transcript verbatim, got %q", data)
	}
}

func TestExport_SameMillisecondDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Dir: dir, Now: fixedNow, Logger: testLogger()})

	first, err := e.Export(context.Background(), "a", []byte("one"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Export(context.Background(), "a", []byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("expected distinct files, got %s twice", first)
	}
	data, _ := os.ReadFile(first)
	if string(data) != "one" {
		t.Fatalf("first export was overwritten: %q", data)
	}
}

func TestExport_HTML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	e := New(Config{Dir: dir, Format: FormatHTML, Now: fixedNow, Logger: testLogger()})

	path, err := e.Export(context.Background(), "conv-1", transcript)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasSuffix(path, ".html") {
		t.Fatalf("expected .html file, got %s", path)
	}
	data, _ := os.ReadFile(path)
	html := string(data)
	if !strings.Contains(html, "<title>Chat export conv-1</title>") {
		t.Fatalf("expected page title, got:\n%s", html)
	}
	if !strings.Contains(html, "<strong>hi</strong>") {
		t.Fatalf("expected markdown rendered, got:\n%s", html)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("raw HTML must be dropped, got:\n%s", html)
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	e := New(Config{Dir: t.TempDir(), Format: "pdf", Logger: testLogger()})
	if _, err := e.Export(context.Background(), "x", transcript); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestExport_WithFormatDoesNotMutate(t *testing.T) {
	e := New(Config{Dir: t.TempDir(), Logger: testLogger()})
	h := e.WithFormat(FormatHTML)
	if e.format != FormatText || h.format != FormatHTML {
		t.Fatalf("expected independent formats, got %s and %s", e.format, h.format)
	}
}

func TestExport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Config{Dir: t.TempDir(), Logger: testLogger()})
	if _, err := e.Export(ctx, "x", transcript); err == nil {
		t.Fatal("expected context error")
	}
}
