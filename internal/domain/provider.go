package domain

import "context"

// Prober is a backend that can be liveness-checked. Probe must be cheap and
// hit a different endpoint than generation calls.
type Prober interface {
	ID() string
	Probe(ctx context.Context) Outcome[Unit]
}

// Adapter translates a domain request into one backend's wire protocol.
type Adapter[Req, Resp any] interface {
	Prober
	Invoke(ctx context.Context, req Req) Outcome[Resp]
}

type TextRequest struct {
	Model  string
	Prompt string
}

type VisionRequest struct {
	Model  string
	Prompt string
	Image  []byte
}

type TranscriptionRequest struct {
	Audio    []byte
	Filename string // defaults to "audio.wav"
	Language string // overrides the adapter default
}

type Transcript struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// SynthesisSettings are the recognized image-synthesis options. Zero values
// fall back to adapter defaults; Seed <= 0 asks for a random seed.
type SynthesisSettings struct {
	Model    string  `json:"model,omitempty"`
	Steps    int     `json:"steps,omitempty"`
	CfgScale float64 `json:"cfgScale,omitempty"`
	Sampler  string  `json:"sampler,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
}

type SynthesisRequest struct {
	Prompt   string            `json:"prompt"`
	Settings SynthesisSettings `json:"settings"`
}

type SynthesisResult struct {
	JobID  string   `json:"job_id"`
	Images []string `json:"images"` // locators of the produced images
	Seed   int64    `json:"seed"`
}

type (
	TextAdapter          = Adapter[TextRequest, string]
	VisionAdapter        = Adapter[VisionRequest, string]
	TranscriptionAdapter = Adapter[TranscriptionRequest, Transcript]
	SynthesisAdapter     = Adapter[SynthesisRequest, SynthesisResult]
)
