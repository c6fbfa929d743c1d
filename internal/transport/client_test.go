package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"aihub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(url string, timeout time.Duration) *Client {
	return New(Config{BaseURL: url, Timeout: timeout, Logger: testLogger()})
}

// --- Success ---

func TestRequest_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		if r.Header.Get("X-Trace") != "abc" {
			t.Errorf("expected custom header to be forwarded")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"echo":"` + body["prompt"].(string) + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	out := c.Request(context.Background(), "/api/generate", http.MethodPost,
		map[string]any{"prompt": "hi"}, map[string]string{"X-Trace": "abc"})
	if !out.OK {
		t.Fatalf("expected success, got %s", Describe(out))
	}

	decoded := Decode[struct {
		Echo string `json:"echo"`
	}](out)
	if !decoded.OK || decoded.Value.Echo != "hi" {
		t.Fatalf("expected echo 'hi', got %+v", decoded)
	}
}

func TestPing_IgnoresNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>docs</html>"))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Ping(context.Background(), "/")
	if !out.OK {
		t.Fatalf("expected ping success, got %s", Describe(out))
	}
}

// --- Failure classification ---

func TestRequest_HTTPErrorCarriesStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Request(context.Background(), "/x", http.MethodGet, nil, nil)
	if out.OK {
		t.Fatal("expected failure")
	}
	if out.Kind != domain.ErrHTTP {
		t.Fatalf("expected HttpError, got %s", out.Kind)
	}
	if out.Message != "404 Not Found" {
		t.Fatalf("expected '404 Not Found', got %q", out.Message)
	}
}

func TestRequest_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Request(context.Background(), "/", http.MethodGet, nil, nil)
	if out.Kind != domain.ErrDecode {
		t.Fatalf("expected DecodeError, got %s", Describe(out))
	}
}

func TestRequest_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	out := newTestClient(url, time.Second).Request(context.Background(), "/", http.MethodGet, nil, nil)
	if out.Kind != domain.ErrNetwork {
		t.Fatalf("expected NetworkError, got %s", Describe(out))
	}
}

func TestRequest_TimeoutReturnsWithinBound(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	const timeout = 100 * time.Millisecond
	start := time.Now()
	out := newTestClient(srv.URL, timeout).Request(context.Background(), "/slow", http.MethodGet, nil, nil)
	elapsed := time.Since(start)

	if out.Kind != domain.ErrTimeout {
		t.Fatalf("expected Timeout, got %s", Describe(out))
	}
	if elapsed > timeout+2*time.Second {
		t.Fatalf("request returned after %s, bound was %s", elapsed, timeout)
	}
}

func TestSend_PerRequestTimeoutOverridesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Minute)
	out := c.Send(context.Background(), Request{Path: "/", Timeout: 50 * time.Millisecond})
	if out.Kind != domain.ErrTimeout {
		t.Fatalf("expected Timeout, got %s", Describe(out))
	}
}

func TestRequest_CallerCancelIsNotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	out := newTestClient(srv.URL, time.Minute).Request(ctx, "/", http.MethodGet, nil, nil)
	if out.Kind != domain.ErrNetwork {
		t.Fatalf("expected NetworkError on caller cancel, got %s", Describe(out))
	}
}

// --- URL joining ---

func TestURL_JoinsPaths(t *testing.T) {
	c := newTestClient("http://localhost:11434/", time.Second)
	if got := c.URL("/api/tags"); got != "http://localhost:11434/api/tags" {
		t.Fatalf("unexpected URL %q", got)
	}
	if got := c.URL("view?filename=a.png"); !strings.HasSuffix(got, "/view?filename=a.png") {
		t.Fatalf("unexpected URL %q", got)
	}
}
