package provider

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"aihub/internal/domain"
	"aihub/internal/transport"
)

const (
	WhisperBackendID    = "whisper"
	whisperDefaultBase  = "http://localhost:9000"
	whisperDefaultLang  = "en"
	whisperDefaultFile  = "audio.wav"
	whisperDefaultLimit = 120 * time.Second
)

// WhisperConfig configures the whisper-asr-webservice adapter.
type WhisperConfig struct {
	APIBase  string
	Language string // ISO-639-1, defaults to "en"
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Whisper is the speech-transcription adapter.
type Whisper struct {
	client   *transport.Client
	language string
	logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = whisperDefaultBase
	}
	if cfg.Language == "" {
		cfg.Language = whisperDefaultLang
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = whisperDefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		client: transport.New(transport.Config{
			BaseURL: cfg.APIBase,
			Timeout: cfg.Timeout,
			Client:  cfg.Client,
			Logger:  cfg.Logger,
		}),
		language: cfg.Language,
		logger:   cfg.Logger,
	}
}

func (w *Whisper) ID() string { return WhisperBackendID }

func (w *Whisper) BaseURL() string { return w.client.BaseURL() }

// Probe hits the service root, which serves the API docs page.
func (w *Whisper) Probe(ctx context.Context) domain.Outcome[domain.Unit] {
	return w.client.Ping(ctx, "/")
}

// Invoke uploads the audio as multipart form data to /asr. An empty
// transcript is a successful result.
func (w *Whisper) Invoke(ctx context.Context, req domain.TranscriptionRequest) domain.Outcome[domain.Transcript] {
	filename := req.Filename
	if filename == "" {
		filename = whisperDefaultFile
	}
	language := req.Language
	if language == "" {
		language = w.language
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio_file", filename)
	if err != nil {
		return domain.Failure[domain.Transcript](domain.ErrNetwork, "create form file: %v", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return domain.Failure[domain.Transcript](domain.ErrNetwork, "write audio data: %v", err)
	}
	_ = writer.WriteField("task", "transcribe")
	_ = writer.WriteField("language", language)
	_ = writer.WriteField("output", "json")
	if err := writer.Close(); err != nil {
		return domain.Failure[domain.Transcript](domain.ErrNetwork, "close multipart body: %v", err)
	}

	// The service reads these as query parameters as well as form fields.
	query := url.Values{"task": {"transcribe"}, "output": {"json"}, "language": {language}}
	out := transport.Decode[domain.Transcript](w.client.Send(ctx, transport.Request{
		Path:        "/asr?" + query.Encode(),
		Method:      http.MethodPost,
		Body:        &body,
		ContentType: writer.FormDataContentType(),
	}))
	if !out.OK {
		w.logger.Warn("transcription failed", "kind", out.Kind, "err", out.Message)
		return out
	}
	if out.Value.Language == "" {
		out.Value.Language = language
	}

	w.logger.Info("transcription complete",
		"text_len", len(out.Value.Text),
		"language", out.Value.Language,
		"audio_bytes", len(req.Audio),
	)
	return out
}
