// Package chat sequences user turns across the text, vision and
// transcription backends and owns the conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aihub/internal/attachment"
	"aihub/internal/domain"
	"aihub/internal/metrics"
)

// ErrBusy rejects a submission while another turn is dispatched.
var ErrBusy error = &domain.BackendError{
	Kind:    domain.ErrConcurrentSubmissionRejected,
	Message: "a response is still being generated",
}

var (
	ErrEmptyTurn = errors.New("turn has no text and no attachments")
	ErrClosed    = errors.New("conversation closed")
)

// State gates input in the UI collaborator.
type State string

const (
	StateComposing  State = "composing"
	StateDispatched State = "dispatched"
)

// Outcome is the final state of a dispatched turn.
type Outcome string

const (
	TurnCompleted Outcome = "completed"
	TurnFailed    Outcome = "failed"
)

// Pending is the attachment buffer a turn takes ownership of on submission.
type Pending interface {
	Take() *attachment.Handoff
}

type Turn struct {
	Text  string
	Model string // "" uses the configured default for the selected backend
}

type TurnResult struct {
	Outcome Outcome
	User    domain.Message
	Reply   domain.Message
	Backend string
	// Err is the backend failure of a failed turn.
	Err error
	// TranscriptionErrors holds one entry per audio attachment that could
	// not be transcribed.
	TranscriptionErrors []error
}

type Config struct {
	ConversationID string
	Text           domain.TextAdapter
	Vision         domain.VisionAdapter        // nil sends images through Text without the image
	Transcriber    domain.TranscriptionAdapter // nil when transcription is disabled
	Health         domain.HealthReader         // optional
	Notifier       domain.Notifier             // optional
	History        domain.HistoryRecorder      // optional
	Metrics        *metrics.MetricsCollector
	DefaultModel   string
	VisionModel    string
	Initial        []domain.Message
	Now            func() time.Time
	Logger         *slog.Logger
}

// Orchestrator runs the turns of one conversation. At most one turn is
// dispatched at a time.
type Orchestrator struct {
	id           string
	text         domain.TextAdapter
	vision       domain.VisionAdapter
	transcriber  domain.TranscriptionAdapter
	health       domain.HealthReader
	notifier     domain.Notifier
	history      domain.HistoryRecorder
	metrics      *metrics.MetricsCollector
	defaultModel string
	visionModel  string
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	state    State
	closed   bool
	messages []domain.Message
	retained []domain.Locator
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Text == nil {
		return nil, fmt.Errorf("text adapter is required")
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = uuid.Must(uuid.NewV7()).String()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Collector
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		id:           cfg.ConversationID,
		text:         cfg.Text,
		vision:       cfg.Vision,
		transcriber:  cfg.Transcriber,
		health:       cfg.Health,
		notifier:     cfg.Notifier,
		history:      cfg.History,
		metrics:      cfg.Metrics,
		defaultModel: cfg.DefaultModel,
		visionModel:  cfg.VisionModel,
		now:          cfg.Now,
		logger:       cfg.Logger.With("conversation", cfg.ConversationID),
		state:        StateComposing,
		messages:     append([]domain.Message(nil), cfg.Initial...),
	}, nil
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Messages returns a copy of the history in append order.
func (o *Orchestrator) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Submit runs one turn to completion. It returns ErrBusy without touching
// pending or the history when another turn is dispatched. A backend failure
// is not an error: it yields a failed TurnResult and an assistant message
// describing it. Cancelling ctx does not abort a dispatched turn; adapter
// timeouts bound it instead.
func (o *Orchestrator) Submit(ctx context.Context, turn Turn, pending Pending) (TurnResult, error) {
	ctx = context.WithoutCancel(ctx)
	if err := o.begin(); err != nil {
		if errors.Is(err, ErrBusy) {
			o.logger.Warn("submission rejected, turn in flight")
			o.metrics.CountTurn("rejected")
			o.notify("Please wait", "A response is still being generated", domain.SeverityWarning)
		}
		return TurnResult{}, err
	}
	defer o.finish()

	handoff := takeAll(pending)
	prompt := strings.TrimSpace(turn.Text)
	if prompt == "" && handoff.Empty() {
		return TurnResult{}, ErrEmptyTurn
	}
	atts := handoff.Attachments()

	var result TurnResult
	prompt, result.TranscriptionErrors = o.transcribeAll(ctx, prompt, atts)

	result.User = o.append(ctx, domain.Message{
		Role:        domain.RoleUser,
		Content:     prompt,
		Attachments: forDisplay(atts),
	})

	backend, model, outcome := o.dispatch(ctx, prompt, turn.Model, atts)
	result.Backend = backend

	reply := domain.Message{Role: domain.RoleAssistant, Model: model}
	if outcome.OK {
		result.Outcome = TurnCompleted
		reply.Content = outcome.Value
		o.notify("Success", "Response generated successfully", domain.SeveritySuccess)
		o.logger.Info("turn completed", "backend", backend, "model", model)
	} else {
		result.Outcome = TurnFailed
		result.Err = outcome.Err()
		reply.Content = ErrorLine(result.Err)
		o.notify("Failed to generate response", result.Err.Error(), domain.SeverityError)
		o.logger.Warn("turn failed", "backend", backend, "model", model, "err", result.Err)
	}
	result.Reply = o.append(ctx, reply)
	o.metrics.CountTurn(string(result.Outcome))

	o.settle(handoff, atts)
	return result, nil
}

// ErrorLine is the assistant message shown for a failed turn.
func ErrorLine(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %s. Please make sure Ollama is running and the model is available.", err)
}

// Clear empties the history and releases the images kept for display.
func (o *Orchestrator) Clear() error {
	o.mu.Lock()
	if o.state == StateDispatched {
		o.mu.Unlock()
		return ErrBusy
	}
	o.messages = nil
	retained := o.retained
	o.retained = nil
	o.mu.Unlock()
	return attachment.ReleaseLocators(retained...)
}

// Close releases retained locators. Later submissions fail with ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	retained := o.retained
	o.retained = nil
	o.mu.Unlock()
	return attachment.ReleaseLocators(retained...)
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.state == StateDispatched {
		return ErrBusy
	}
	o.state = StateDispatched
	return nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.state = StateComposing
	o.mu.Unlock()
}

// transcribeAll transcribes every audio attachment in order and folds the
// transcripts into prompt. Failures are reported and skipped.
func (o *Orchestrator) transcribeAll(ctx context.Context, prompt string, atts []domain.Attachment) (string, []error) {
	var errs []error
	for _, a := range atts {
		if a.Kind != domain.AttachmentAudio {
			continue
		}
		out := o.transcribe(ctx, a)
		if !out.OK {
			err := out.Err()
			errs = append(errs, err)
			o.logger.Warn("transcription failed", "attachment", a.DisplayName, "err", err)
			o.notify("Failed to transcribe audio", err.Error(), domain.SeverityError)
			continue
		}
		text := strings.TrimSpace(out.Value.Text)
		if text == "" {
			continue
		}
		if prompt == "" {
			prompt = text
		} else {
			prompt += "\n\nAudio transcription: " + text
		}
	}
	return prompt, errs
}

func (o *Orchestrator) transcribe(ctx context.Context, a domain.Attachment) domain.Outcome[domain.Transcript] {
	if o.transcriber == nil {
		return domain.Failure[domain.Transcript](domain.ErrTranscriptionFailed, "transcription backend is disabled")
	}
	audio, err := attachment.Bytes(a)
	if err != nil {
		return domain.Failure[domain.Transcript](domain.ErrTranscriptionFailed, "%s", err.Error())
	}
	out := call(ctx, o, o.transcriber, domain.TranscriptionRequest{Audio: audio, Filename: a.DisplayName})
	if !out.OK {
		return domain.Failure[domain.Transcript](domain.ErrTranscriptionFailed, "%s", out.Err().Error())
	}
	return out
}

// dispatch selects the backend for the turn and calls it. The first image
// goes to the vision backend; the rest stay on the message only.
func (o *Orchestrator) dispatch(ctx context.Context, prompt, model string, atts []domain.Attachment) (string, string, domain.Outcome[string]) {
	if img, ok := firstImage(atts); ok && o.vision != nil {
		if model == "" {
			model = o.visionModel
		}
		if model == "" {
			model = o.defaultModel
		}
		data, err := attachment.Bytes(img)
		if err != nil {
			return o.vision.ID(), model, domain.Failure[string](domain.ErrBackendRejected, "%s", err.Error())
		}
		return o.vision.ID(), model, call(ctx, o, o.vision, domain.VisionRequest{Model: model, Prompt: prompt, Image: data})
	}
	if model == "" {
		model = o.defaultModel
	}
	return o.text.ID(), model, call(ctx, o, o.text, domain.TextRequest{Model: model, Prompt: prompt})
}

// call short-circuits backends the health monitor reports offline and
// records request metrics.
func call[Req, Resp any](ctx context.Context, o *Orchestrator, a domain.Adapter[Req, Resp], req Req) domain.Outcome[Resp] {
	id := a.ID()
	if o.health != nil && o.health.Status(id) == domain.StatusOffline {
		return domain.Failure[Resp](domain.ErrNetwork, "%s is offline", id)
	}
	start := time.Now()
	out := a.Invoke(ctx, req)
	o.metrics.RecordBackend(id, out.Kind, out.OK, time.Since(start))
	return out
}

// append stamps msg, adds it to the history and forwards it to the history
// recorder.
func (o *Orchestrator) append(ctx context.Context, msg domain.Message) domain.Message {
	msg.ID = uuid.Must(uuid.NewV7()).String()

	o.mu.Lock()
	msg.Timestamp = o.now()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()

	if o.history != nil {
		if err := o.history.RecordMessage(ctx, o.id, msg); err != nil {
			o.logger.Warn("cannot record message", "message", msg.ID, "err", err)
		}
	}
	return msg
}

// settle keeps image locators alive for display and releases the rest.
func (o *Orchestrator) settle(handoff *attachment.Handoff, atts []domain.Attachment) {
	var keep []domain.Locator
	for _, a := range atts {
		if a.Kind == domain.AttachmentImage && a.Locator != nil {
			keep = append(keep, a.Locator)
		}
	}
	handoff.Retain(keep...)
	if err := handoff.Release(); err != nil {
		o.logger.Warn("cannot release attachments", "err", err)
	}

	o.mu.Lock()
	closed := o.closed
	if !closed {
		o.retained = append(o.retained, keep...)
	}
	o.mu.Unlock()
	if closed {
		_ = attachment.ReleaseLocators(keep...)
	}
}

func (o *Orchestrator) notify(title, description string, sev domain.Severity) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(domain.Notification{
		Title:       title,
		Description: description,
		Severity:    sev,
		Topic:       "chat",
		Time:        o.now(),
	})
}

func takeAll(p Pending) *attachment.Handoff {
	if p == nil {
		return attachment.NewHandoff(nil)
	}
	return p.Take()
}

func firstImage(atts []domain.Attachment) (domain.Attachment, bool) {
	for _, a := range atts {
		if a.Kind == domain.AttachmentImage {
			return a, true
		}
	}
	return domain.Attachment{}, false
}

// forDisplay drops payload bytes from the copies stored on the message.
func forDisplay(atts []domain.Attachment) []domain.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]domain.Attachment, len(atts))
	for i, a := range atts {
		a.Payload = nil
		out[i] = a
	}
	return out
}
