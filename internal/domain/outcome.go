package domain

import "fmt"

// ErrorKind classifies a failed backend call or turn.
type ErrorKind string

const (
	ErrTimeout                      ErrorKind = "Timeout"
	ErrNetwork                      ErrorKind = "NetworkError"
	ErrHTTP                         ErrorKind = "HttpError"
	ErrDecode                       ErrorKind = "DecodeError"
	ErrBackendRejected              ErrorKind = "BackendRejected"
	ErrTranscriptionFailed          ErrorKind = "TranscriptionFailed"
	ErrConcurrentSubmissionRejected ErrorKind = "ConcurrentSubmissionRejected"
)

// Unit is the value type of outcomes that carry no payload (probes).
type Unit struct{}

// Outcome is the normalized result of a backend call. Adapters never return
// Go errors across their boundary; every failure is an Outcome with OK=false.
type Outcome[T any] struct {
	OK      bool
	Value   T
	Kind    ErrorKind
	Message string
}

func Success[T any](v T) Outcome[T] {
	return Outcome[T]{OK: true, Value: v}
}

func Failure[T any](kind ErrorKind, format string, args ...any) Outcome[T] {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Outcome[T]{Kind: kind, Message: msg}
}

// Recast carries a failed outcome over to another value type.
func Recast[U, T any](o Outcome[T]) Outcome[U] {
	return Outcome[U]{Kind: o.Kind, Message: o.Message}
}

// Err returns nil for a successful outcome and a *BackendError otherwise.
func (o Outcome[T]) Err() error {
	if o.OK {
		return nil
	}
	return &BackendError{Kind: o.Kind, Message: o.Message}
}

// BackendError adapts a failed Outcome to the error interface.
type BackendError struct {
	Kind    ErrorKind
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}
