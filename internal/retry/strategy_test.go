package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

var (
	transientCodes = []tts.ErrorCode{
		tts.ErrorCodeTimeout,
		tts.ErrorCodeNetworkError,
		tts.ErrorCodeServiceUnavailable,
		tts.ErrorCodeProcessingError,
		tts.ErrorCodeAdapterUnavailable,
	}
	permanentCodes = []tts.ErrorCode{
		tts.ErrorCodeInvalidRequest,
		tts.ErrorCodeValidationFailed,
		tts.ErrorCodeConfigurationError,
		tts.ErrorCodeAuthenticationFailed,
		tts.ErrorCodeUnsupportedFormat,
	}
)

func TestShouldRetryPermanentNeverRetries(t *testing.T) {
	s := New(3, time.Second, true, nil)
	for _, code := range permanentCodes {
		// even when forced retryable
		err := tts.NewTTSError(code, "x").WithRetryable(true)
		for attempt := 0; attempt < 10; attempt++ {
			if s.ShouldRetry(err, attempt) {
				t.Errorf("ShouldRetry(%s, %d) = true, want false", code, attempt)
			}
		}
	}
}

func TestShouldRetryTransientWithinBudget(t *testing.T) {
	s := New(3, time.Second, true, nil)
	for _, code := range transientCodes {
		err := tts.NewTTSError(code, "x")
		for attempt := 0; attempt < s.MaxRetries; attempt++ {
			if !s.ShouldRetry(err, attempt) {
				t.Errorf("ShouldRetry(%s, %d) = false, want true", code, attempt)
			}
		}
		if s.ShouldRetry(err, s.MaxRetries) {
			t.Errorf("ShouldRetry(%s, max) should be false", code)
		}
	}
}

func TestShouldRetryHonorsRetryableFlag(t *testing.T) {
	s := New(3, time.Second, true, nil)
	err := tts.NewTTSError(tts.ErrorCodeNetworkError, "x").WithRetryable(false)
	if s.ShouldRetry(err, 0) {
		t.Error("non-retryable error must not be retried")
	}
	if s.ShouldRetry(nil, 0) {
		t.Error("nil error must not be retried")
	}
}

func TestShouldRetryOtherCodesBySeverity(t *testing.T) {
	s := New(3, time.Second, true, nil)
	quota := tts.NewTTSError(tts.ErrorCodeQuotaExceeded, "x")
	if !s.ShouldRetry(quota, 0) {
		t.Error("quota exceeded should retry at non-critical severity")
	}
	if s.ShouldRetry(quota.WithSeverity(tts.SeverityCritical), 0) {
		t.Error("critical severity should not retry")
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	s := New(3, 500*time.Millisecond, true, nil)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, MaxDelay},
		{100, MaxDelay},
		{1 << 30, MaxDelay},
	}
	for _, tt := range tests {
		if got := s.RetryDelay(tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryDelayMonotonicAndCapped(t *testing.T) {
	for _, base := range []time.Duration{time.Millisecond, 700 * time.Millisecond, 29 * time.Second, time.Minute} {
		s := New(3, base, true, nil)
		prev := time.Duration(0)
		for n := 0; n < 64; n++ {
			d := s.RetryDelay(n)
			if d < prev {
				t.Fatalf("base %v: RetryDelay(%d)=%v < RetryDelay(%d)=%v", base, n, d, n-1, prev)
			}
			if d > MaxDelay {
				t.Fatalf("base %v: RetryDelay(%d)=%v exceeds cap", base, n, d)
			}
			prev = d
		}
	}
}

func TestRetryDelayConstantWithoutBackoff(t *testing.T) {
	s := New(3, 750*time.Millisecond, false, nil)
	for n := 0; n < 10; n++ {
		if got := s.RetryDelay(n); got != 750*time.Millisecond {
			t.Errorf("RetryDelay(%d) = %v, want constant 750ms", n, got)
		}
	}
}

func TestHandleErrorTimedOutIsTerminal(t *testing.T) {
	s := New(3, time.Millisecond, true, nil)
	ec := tts.NewErrorContext("req", tts.BackendExternal)
	ec.TimeoutMs = 100
	now := ec.StartTime.Add(200 * time.Millisecond)

	err := tts.NewTTSError(tts.ErrorCodeNetworkError, "down")
	d := s.HandleErrorAt(err, ec, now)
	if d.Retry {
		t.Fatal("timed out context must not retry")
	}
	if d.Err.Code != tts.ErrorCodeTimeout {
		t.Errorf("code = %s, want TIMEOUT", d.Err.Code)
	}
	if !errors.Is(d.Err, err) {
		t.Error("timeout should wrap the last error")
	}
}

func TestHandleErrorRetryDecision(t *testing.T) {
	s := New(3, 100*time.Millisecond, true, nil)
	ec := tts.NewErrorContext("req", tts.BackendExternal)
	ec.AttemptCount = 1

	d := s.HandleErrorAt(tts.NewTTSError(tts.ErrorCodeServiceUnavailable, "503"), ec, ec.StartTime)
	if !d.Retry {
		t.Fatal("transient error within budget should retry")
	}
	if d.Delay != 200*time.Millisecond {
		t.Errorf("Delay = %v, want 200ms", d.Delay)
	}

	d = s.HandleErrorAt(tts.NewTTSError(tts.ErrorCodeAuthenticationFailed, "401"), ec, ec.StartTime)
	if d.Retry || d.Err.Code != tts.ErrorCodeAuthenticationFailed {
		t.Errorf("permanent error decision = %+v", d)
	}
}

func TestHandleErrorDelayPastDeadline(t *testing.T) {
	s := New(3, 10*time.Second, false, nil)
	ec := tts.NewErrorContext("req", tts.BackendExternal)
	ec.TimeoutMs = 1000

	d := s.HandleErrorAt(tts.NewTTSError(tts.ErrorCodeNetworkError, "x"), ec, ec.StartTime)
	if d.Retry || d.Err.Code != tts.ErrorCodeTimeout {
		t.Errorf("a wait longer than the budget should end in TIMEOUT, got %+v", d)
	}
}
