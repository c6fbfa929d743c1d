package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"aihub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// capturedGenerate is one /api/generate body.
type capturedGenerate struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream *bool    `json:"stream"`
	Images []string `json:"images"`
}

type ollamaServer struct {
	*httptest.Server
	mu   sync.Mutex
	last capturedGenerate
}

func (s *ollamaServer) lastRequest() capturedGenerate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func newOllamaServer(t *testing.T, reply string) *ollamaServer {
	t.Helper()
	s := &ollamaServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b","size":4661224676},{"name":"llava:7b"}]}`))
		case "/api/generate":
			var got capturedGenerate
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			s.mu.Lock()
			s.last = got
			s.mu.Unlock()
			_, _ = w.Write([]byte(reply))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// --- Text ---

func TestOllama_InvokeSendsNonStreamingRequest(t *testing.T) {
	srv := newOllamaServer(t, `{"model":"llama3:8b","response":"Hello there","done":true}`)

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	out := o.Invoke(context.Background(), domain.TextRequest{Prompt: "hi"})
	got := srv.lastRequest()
	if !out.OK {
		t.Fatalf("expected success, got %s: %s", out.Kind, out.Message)
	}
	if out.Value != "Hello there" {
		t.Fatalf("expected 'Hello there', got %q", out.Value)
	}
	if got.Model != "llama3:8b" {
		t.Fatalf("expected default model, got %q", got.Model)
	}
	if got.Stream == nil || *got.Stream {
		t.Fatal("expected stream:false in request body")
	}
	if got.Images != nil {
		t.Fatalf("text request must not carry images, got %v", got.Images)
	}
}

func TestOllama_ErrorFieldIsBackendRejected(t *testing.T) {
	srv := newOllamaServer(t, `{"error":"model 'nope' not found, try pulling it first"}`)

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	out := o.Invoke(context.Background(), domain.TextRequest{Model: "nope", Prompt: "hi"})
	if out.OK || out.Kind != domain.ErrBackendRejected {
		t.Fatalf("expected BackendRejected, got %+v", out)
	}
	if !strings.Contains(out.Message, "not found") {
		t.Fatalf("expected backend message to be kept, got %q", out.Message)
	}
}

func TestOllama_HTTPErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}).
		Invoke(context.Background(), domain.TextRequest{Prompt: "hi"})
	if out.Kind != domain.ErrHTTP || out.Message != "500 Internal Server Error" {
		t.Fatalf("expected HttpError 500, got %+v", out)
	}
}

func TestOllama_ProbeAndListModels(t *testing.T) {
	srv := newOllamaServer(t, `{}`)
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	if out := o.Probe(context.Background()); !out.OK {
		t.Fatalf("expected probe success, got %+v", out)
	}

	models := o.ListModels(context.Background())
	if !models.OK {
		t.Fatalf("expected models, got %+v", models)
	}
	if len(models.Value) != 2 || models.Value[0].Name != "llama3:8b" {
		t.Fatalf("unexpected models %+v", models.Value)
	}
}

func TestOllama_ProbeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Timeout: 50 * time.Millisecond, Logger: testLogger()})
	if out := o.Probe(context.Background()); out.Kind != domain.ErrTimeout {
		t.Fatalf("expected Timeout, got %+v", out)
	}
}

// --- Vision ---

func TestVision_EncodesImageAsBase64(t *testing.T) {
	srv := newOllamaServer(t, `{"response":"a cat"}`)

	text := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	v := NewVision(text, "llava:7b")

	img := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	out := v.Invoke(context.Background(), domain.VisionRequest{Prompt: "what is this?", Image: img})
	got := srv.lastRequest()
	if !out.OK || out.Value != "a cat" {
		t.Fatalf("expected 'a cat', got %+v", out)
	}
	if got.Model != "llava:7b" {
		t.Fatalf("expected vision model, got %q", got.Model)
	}
	if len(got.Images) != 1 {
		t.Fatalf("expected exactly one image, got %d", len(got.Images))
	}
	decoded, err := base64.StdEncoding.DecodeString(got.Images[0])
	if err != nil || !bytes.Equal(decoded, img) {
		t.Fatalf("image payload did not round-trip: %v", err)
	}
	if v.ID() != text.ID() {
		t.Fatal("vision adapter should share the text backend id")
	}
}

func TestVision_DefaultsToTextModel(t *testing.T) {
	srv := newOllamaServer(t, `{"response":"ok"}`)

	v := NewVision(NewOllama(OllamaConfig{APIBase: srv.URL, DefaultModel: "llava:13b", Logger: testLogger()}), "")
	v.Invoke(context.Background(), domain.VisionRequest{Prompt: "x", Image: []byte("img")})
	if got := srv.lastRequest(); got.Model != "llava:13b" {
		t.Fatalf("expected fallback to text default model, got %q", got.Model)
	}
}

// --- Whisper ---

func TestWhisper_UploadsMultipartAudio(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt ")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asr" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		for field, want := range map[string]string{"task": "transcribe", "language": "en", "output": "json"} {
			if got := r.FormValue(field); got != want {
				t.Errorf("field %s: expected %q, got %q", field, want, got)
			}
		}
		f, hdr, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("missing audio_file: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "audio.wav" {
			t.Errorf("expected filename audio.wav, got %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if !bytes.Equal(data, audio) {
			t.Errorf("audio bytes were not forwarded")
		}
		_, _ = w.Write([]byte(`{"text":" Turn on the lights."}`))
	}))
	defer srv.Close()

	wh := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	out := wh.Invoke(context.Background(), domain.TranscriptionRequest{Audio: audio})
	if !out.OK {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Value.Text != " Turn on the lights." {
		t.Fatalf("unexpected transcript %q", out.Value.Text)
	}
	if out.Value.Language != "en" {
		t.Fatalf("expected language to default to en, got %q", out.Value.Language)
	}
}

func TestWhisper_LanguageCannotInjectQueryParameters(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	wh := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	out := wh.Invoke(context.Background(), domain.TranscriptionRequest{Audio: []byte("x"), Language: "en&task=translate"})
	if !out.OK {
		t.Fatalf("expected success, got %+v", out)
	}
	if got := query["task"]; len(got) != 1 || got[0] != "transcribe" {
		t.Fatalf("expected task=transcribe only, got %v", got)
	}
	if got := query.Get("language"); got != "en&task=translate" {
		t.Fatalf("expected language to arrive verbatim, got %q", got)
	}
}

func TestWhisper_EmptyTranscriptIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	out := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()}).
		Invoke(context.Background(), domain.TranscriptionRequest{Audio: []byte("x")})
	if !out.OK || out.Value.Text != "" {
		t.Fatalf("expected empty successful transcript, got %+v", out)
	}
}

func TestWhisper_ProbeAcceptsHTMLRoot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>Swagger UI</html>"))
	}))
	defer srv.Close()

	if out := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()}).Probe(context.Background()); !out.OK {
		t.Fatalf("expected probe success, got %+v", out)
	}
}

// --- Open WebUI ---

func TestOpenWebUI_ProbesHealthEndpoint(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = w.Write([]byte(`{"status":true}`))
	}))
	defer srv.Close()

	p := NewOpenWebUI(srv.URL, testLogger())
	if out := p.Probe(context.Background()); !out.OK {
		t.Fatalf("expected probe success, got %+v", out)
	}
	if path := <-paths; path != "/api/health" {
		t.Fatalf("expected /api/health, got %q", path)
	}
	if p.ID() != OpenWebUIBackendID {
		t.Fatalf("unexpected id %q", p.ID())
	}
}
