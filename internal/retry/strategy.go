// Package retry decides whether a failed TTS attempt should be retried
// and how long to wait before the next one.
package retry

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// MaxDelay caps the backoff delay.
const MaxDelay = 30 * time.Second

// Strategy is a pure decision component. It never mutates request state;
// the dispatcher owns attempt counting.
type Strategy struct {
	MaxRetries int
	BaseDelay  time.Duration
	UseBackoff bool

	logger *log.Logger
}

// New creates a Strategy. A nil logger disables logging.
func New(maxRetries int, baseDelay time.Duration, useBackoff bool, logger *log.Logger) *Strategy {
	return &Strategy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		UseBackoff: useBackoff,
		logger:     logger,
	}
}

// FromConfiguration builds the strategy for a configuration snapshot.
func FromConfiguration(cfg tts.Configuration, logger *log.Logger) *Strategy {
	return New(cfg.MaxRetryCount, cfg.RetryDelay(), cfg.UseBackoff, logger)
}

// ShouldRetry reports whether err warrants another attempt after attempt
// retries have already been made.
func (s *Strategy) ShouldRetry(err *tts.TTSError, attempt int) bool {
	if err == nil || attempt >= s.MaxRetries {
		return false
	}
	if !err.Retryable {
		return false
	}
	switch {
	case err.Code.IsTransient():
		return true
	case err.Code.IsPermanent():
		return false
	default:
		return err.Severity != tts.SeverityCritical
	}
}

// RetryDelay returns the wait before the next attempt. With backoff it is
// BaseDelay * 2^attempt capped at MaxDelay; otherwise BaseDelay.
func (s *Strategy) RetryDelay(attempt int) time.Duration {
	if s.BaseDelay <= 0 {
		return 0
	}
	if !s.UseBackoff {
		return min(s.BaseDelay, MaxDelay)
	}
	if attempt < 0 {
		attempt = 0
	}
	d := s.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	return min(d, MaxDelay)
}

// Decision is the advice returned by HandleError.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Err is the error to report. It is replaced with a Timeout when the
	// request deadline has passed.
	Err *tts.TTSError
}

// HandleError logs err and decides what the dispatcher should do next.
// A timed-out context always yields a terminal Timeout.
func (s *Strategy) HandleError(err *tts.TTSError, ec *tts.ErrorContext) Decision {
	return s.HandleErrorAt(err, ec, time.Now())
}

// HandleErrorAt is HandleError evaluated at now.
func (s *Strategy) HandleErrorAt(err *tts.TTSError, ec *tts.ErrorContext, now time.Time) Decision {
	if s.logger != nil {
		s.logger.Debug("Handling TTS error",
			"request_id", ec.RequestID,
			"backend", ec.Backend,
			"attempt", ec.AttemptCount,
			"code", err.Code,
			"retryable", err.Retryable)
	}

	if ec.IsTimedOutAt(now) {
		return Decision{Err: TimeoutError(ec, err)}
	}

	if !s.ShouldRetry(err, ec.AttemptCount) {
		return Decision{Err: err}
	}

	delay := s.RetryDelay(ec.AttemptCount)
	if ec.TimeoutMs > 0 && now.Add(delay).After(ec.Deadline()) {
		// The wait alone would overrun the budget.
		return Decision{Err: TimeoutError(ec, err)}
	}
	return Decision{Retry: true, Delay: delay, Err: err}
}

// IsDeadlineExceeded reports whether the context's budget is spent.
func IsDeadlineExceeded(ec *tts.ErrorContext) bool {
	return ec.IsTimedOut()
}

// TimeoutError builds the terminal Timeout for ec, keeping last as cause.
func TimeoutError(ec *tts.ErrorContext, last error) *tts.TTSError {
	te := tts.NewTTSError(tts.ErrorCodeTimeout, "request deadline exceeded").
		WithRetryable(false).
		WithSource("dispatcher").
		WithRequestID(ec.RequestID).
		WithDetails("timeout after %dms (%d retries)", ec.TimeoutMs, ec.AttemptCount)
	if last != nil {
		te.WithCause(last)
	}
	return te
}
