package tts

import "time"

// DefaultMaxRetries is the retry budget used when none is configured.
const DefaultMaxRetries = 3

// ErrorContext tracks one request's attempt budget. Its predicates depend
// only on its own fields and the instant passed in.
type ErrorContext struct {
	RequestID    string
	Backend      BackendType
	AttemptCount int
	MaxRetries   int
	StartTime    time.Time
	TimeoutMs    int
	Metadata     map[string]string
}

// NewErrorContext creates a context with the default budgets.
func NewErrorContext(requestID string, backend BackendType) *ErrorContext {
	return &ErrorContext{
		RequestID:  requestID,
		Backend:    backend,
		MaxRetries: DefaultMaxRetries,
		StartTime:  time.Now(),
		TimeoutMs:  DefaultTimeoutMs,
		Metadata:   make(map[string]string),
	}
}

// Timeout returns the budget as a duration.
func (c *ErrorContext) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Deadline returns the absolute deadline of the request.
func (c *ErrorContext) Deadline() time.Time {
	return c.StartTime.Add(c.Timeout())
}

// IsTimedOutAt reports whether the budget has elapsed at now.
func (c *ErrorContext) IsTimedOutAt(now time.Time) bool {
	if c.TimeoutMs <= 0 {
		return false
	}
	return !now.Before(c.Deadline())
}

// IsTimedOut reports whether the budget has elapsed.
func (c *ErrorContext) IsTimedOut() bool {
	return c.IsTimedOutAt(time.Now())
}

// IsExhausted reports whether no retries remain.
func (c *ErrorContext) IsExhausted() bool {
	return c.AttemptCount >= c.MaxRetries
}
