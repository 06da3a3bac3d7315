// Package timeout keeps one cancellation token per in-flight request id.
package timeout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Cancellation causes reported by Token.Cause.
var (
	ErrDeadlineExceeded = errors.New("request deadline exceeded")
	ErrCancelled        = errors.New("request cancelled")
	ErrReplaced         = errors.New("timeout token replaced")
	ErrReleased         = errors.New("timeout token released")
)

// Token is a cancellation signal with an absolute deadline.
type Token struct {
	ID       string
	Deadline time.Time
	Created  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
}

// Context returns the context attempts run under.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed once the token is cancelled, expired or released.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cause returns why the token ended, or nil while it is live.
func (t *Token) Cause() error { return context.Cause(t.ctx) }

// Expired reports whether the deadline fired.
func (t *Token) Expired() bool { return errors.Is(t.Cause(), ErrDeadlineExceeded) }

// Cancelled reports whether the token was cancelled early. A released
// token is not cancelled.
func (t *Token) Cancelled() bool {
	cause := t.Cause()
	return errors.Is(cause, ErrCancelled) || errors.Is(cause, ErrReplaced)
}

// Remaining returns the time left before the deadline.
func (t *Token) Remaining() time.Duration {
	if t.Deadline.IsZero() {
		return 0
	}
	return time.Until(t.Deadline)
}

func (t *Token) end(cause error) {
	t.cancel(cause)
	t.stop()
}

// Manager owns the token registry. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	tokens map[string]*Token
	logger *log.Logger
}

// NewManager creates an empty registry. A nil logger uses log.Default().
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		tokens: make(map[string]*Token),
		logger: logger,
	}
}

// CreateTimeoutToken registers a token for id derived from parent. Any
// previous token for the same id is cancelled first. A non-positive
// timeout creates a token without a deadline.
func (m *Manager) CreateTimeoutToken(parent context.Context, id string, timeout time.Duration) *Token {
	if parent == nil {
		parent = context.Background()
	}

	base, cancel := context.WithCancelCause(parent)
	tok := &Token{ID: id, Created: time.Now(), cancel: cancel}
	if timeout > 0 {
		tok.Deadline = tok.Created.Add(timeout)
		tok.ctx, tok.stop = context.WithDeadlineCause(base, tok.Deadline, ErrDeadlineExceeded)
	} else {
		tok.ctx, tok.stop = base, func() {}
	}

	m.mu.Lock()
	prev := m.tokens[id]
	m.tokens[id] = tok
	m.mu.Unlock()

	if prev != nil {
		m.logger.Debug("Replacing timeout token", "request_id", id)
		prev.end(ErrReplaced)
	}
	return tok
}

// CancelTimeout cancels the token for id and removes it. It reports
// whether a token existed.
func (m *Manager) CancelTimeout(id string) bool {
	m.mu.Lock()
	tok, ok := m.tokens[id]
	delete(m.tokens, id)
	m.mu.Unlock()

	if ok {
		m.logger.Debug("Cancelling request", "request_id", id)
		tok.end(ErrCancelled)
	}
	return ok
}

// CleanupTimeout releases the token for id on normal completion.
func (m *Manager) CleanupTimeout(id string) {
	m.mu.Lock()
	tok, ok := m.tokens[id]
	delete(m.tokens, id)
	m.mu.Unlock()

	if ok {
		tok.end(ErrReleased)
	}
}

// Release is CleanupTimeout for a specific token: it is a no-op for the
// registry when tok has already been replaced under the same id.
func (m *Manager) Release(tok *Token) {
	m.mu.Lock()
	if m.tokens[tok.ID] == tok {
		delete(m.tokens, tok.ID)
	}
	m.mu.Unlock()

	tok.end(ErrReleased)
}

// CleanupAll cancels every token and empties the registry.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	tokens := m.tokens
	m.tokens = make(map[string]*Token)
	m.mu.Unlock()

	for _, tok := range tokens {
		tok.end(ErrCancelled)
	}
	if len(tokens) > 0 {
		m.logger.Debug("Cancelled all timeout tokens", "count", len(tokens))
	}
}

// Has reports whether a live token exists for id.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[id]
	return ok
}

// ActiveCount returns the number of registered tokens.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
