// Package eventlog records error, retry and performance events for the
// dispatcher and derives rolling statistics from them.
package eventlog

import (
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// Kind identifies the event payload.
type Kind string

const (
	KindError       Kind = "error"
	KindRetry       Kind = "retry"
	KindPerformance Kind = "performance"
)

// Event is one log entry. Exactly one payload matching Kind is set.
type Event struct {
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Backend   tts.BackendType `json:"backend,omitempty"`

	Error       *ErrorPayload       `json:"error,omitempty"`
	Retry       *RetryPayload       `json:"retry,omitempty"`
	Performance *PerformancePayload `json:"performance,omitempty"`
}

// ErrorPayload describes a failed attempt.
type ErrorPayload struct {
	Code      tts.ErrorCode `json:"code"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Severity  string        `json:"severity"`
	Retryable bool          `json:"retryable"`
	Source    string        `json:"source,omitempty"`
	Attempt   int           `json:"attempt"`
}

// RetryPayload describes a scheduled retry.
type RetryPayload struct {
	Attempt int           `json:"attempt"`
	DelayMs int64         `json:"delay_ms"`
	Code    tts.ErrorCode `json:"code"`
}

// PerformancePayload describes a finished request.
type PerformancePayload struct {
	DurationMs int64 `json:"duration_ms"`
	Success    bool  `json:"success"`
	TextLength int   `json:"text_length"`
	Attempts   int   `json:"attempts"`
	CacheHit   bool  `json:"cache_hit,omitempty"`
}

// Duration returns the measured processing time.
func (p PerformancePayload) Duration() time.Duration {
	return time.Duration(p.DurationMs) * time.Millisecond
}

// NewErrorEvent builds an error event from err for the given attempt.
func NewErrorEvent(err *tts.TTSError, backend tts.BackendType, attempt int) Event {
	return Event{
		Kind:      KindError,
		RequestID: err.RequestID,
		Backend:   backend,
		Error: &ErrorPayload{
			Code:      err.Code,
			Message:   err.Message,
			Details:   err.Details,
			Severity:  err.Severity.String(),
			Retryable: err.Retryable,
			Source:    err.Source,
			Attempt:   attempt,
		},
	}
}
