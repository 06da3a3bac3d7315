package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// DefaultMaxEntries bounds the in-memory log when no cap is configured.
const DefaultMaxEntries = 10000

// Sink persists events outside the process.
type Sink interface {
	Write(ev Event) error
	// RemoveBefore deletes persisted events older than cutoff and returns
	// how many files were removed.
	RemoveBefore(cutoff time.Time) (int, error)
	Close() error
}

// Options configures a Logger.
type Options struct {
	// MaxEntries caps the in-memory log; the oldest events are dropped.
	MaxEntries int

	// RetentionDays is the age after which the retention sweep discards
	// events. Zero disables the sweep.
	RetentionDays int

	// Sink optionally persists every event.
	Sink Sink

	// Logger receives diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// Logger is an append-only bounded event log. It is safe for concurrent
// writers.
type Logger struct {
	mu    sync.RWMutex
	buf   []Event
	head  int
	count int
	max   int

	dropped int64

	retention time.Duration
	sink      Sink
	diag      *log.Logger
	verbose   bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Logger.
func New(opts Options) *Logger {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Logger{
		buf:       make([]Event, 0, min(opts.MaxEntries, 1024)),
		max:       opts.MaxEntries,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		sink:      opts.Sink,
		diag:      opts.Logger,
		verbose:   true,
		stop:      make(chan struct{}),
	}
}

// SetVerbose toggles diagnostic output and persistence. In-memory events
// are always kept so statistics stay available.
func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	l.verbose = v
	l.mu.Unlock()
}

// Append records ev, stamping it if its timestamp is zero.
func (l *Logger) Append(ev Event) {
	l.mu.Lock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	l.push(ev)
	sink, verbose := l.sink, l.verbose
	l.mu.Unlock()

	if sink != nil && verbose {
		if err := sink.Write(ev); err != nil {
			l.diag.Warn("Failed to persist event", "kind", ev.Kind, "error", err)
		}
	}
}

// push appends to the ring. Callers hold mu.
func (l *Logger) push(ev Event) {
	if len(l.buf) < l.max {
		l.buf = append(l.buf, ev)
		l.count++
		return
	}
	idx := (l.head + l.count) % l.max
	if l.count == l.max {
		l.head = (l.head + 1) % l.max
		l.dropped++
	} else {
		l.count++
	}
	l.buf[idx] = ev
}

// LogError records a failed attempt.
func (l *Logger) LogError(err *tts.TTSError, backend tts.BackendType, attempt int) {
	l.Append(NewErrorEvent(err, backend, attempt))
	if l.isVerbose() {
		l.diag.Warn("TTS attempt failed",
			"request_id", err.RequestID,
			"backend", backend,
			"attempt", attempt,
			"code", err.Code,
			"severity", err.Severity,
			"retryable", err.Retryable,
			"details", err.Details)
	}
}

// LogRetry records that attempt will be retried after delay.
func (l *Logger) LogRetry(requestID string, backend tts.BackendType, attempt int, delay time.Duration, code tts.ErrorCode) {
	l.Append(Event{
		Kind:      KindRetry,
		RequestID: requestID,
		Backend:   backend,
		Retry: &RetryPayload{
			Attempt: attempt,
			DelayMs: delay.Milliseconds(),
			Code:    code,
		},
	})
	if l.isVerbose() {
		l.diag.Info("Retrying TTS request",
			"request_id", requestID,
			"attempt", attempt,
			"delay", delay,
			"code", code)
	}
}

// LogPerformance records a finished request.
func (l *Logger) LogPerformance(requestID string, backend tts.BackendType, p PerformancePayload) {
	l.Append(Event{
		Kind:        KindPerformance,
		RequestID:   requestID,
		Backend:     backend,
		Performance: &p,
	})
	if l.isVerbose() {
		l.diag.Debug("TTS request finished",
			"request_id", requestID,
			"backend", backend,
			"success", p.Success,
			"duration", p.Duration(),
			"attempts", p.Attempts,
			"cache_hit", p.CacheHit)
	}
}

func (l *Logger) isVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Events returns a copy of the events at or after since, oldest first.
// A zero since returns every event.
func (l *Logger) Events(since time.Time) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		ev := l.buf[(l.head+i)%len(l.buf)]
		if ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the number of retained events.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Dropped returns how many events were discarded to honor the cap.
func (l *Logger) Dropped() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// Cleanup discards events older than cutoff and returns how many were removed.
func (l *Logger) Cleanup(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		ev := l.buf[(l.head+i)%len(l.buf)]
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := l.count - len(kept)
	if removed > 0 {
		l.buf = kept
		l.head = 0
		l.count = len(kept)
	}
	return removed
}

// Sweep applies the retention policy to memory and to the sink.
func (l *Logger) Sweep(now time.Time) {
	if l.retention <= 0 {
		return
	}
	cutoff := now.Add(-l.retention)
	removed := l.Cleanup(cutoff)

	files := 0
	if l.sink != nil {
		var err error
		if files, err = l.sink.RemoveBefore(cutoff); err != nil {
			l.diag.Warn("Failed to remove old event files", "error", err)
		}
	}
	if removed > 0 || files > 0 {
		l.diag.Debug("Event retention sweep", "events", removed, "files", files, "cutoff", cutoff)
	}
}

// StartRetention runs Sweep every interval until ctx is done or Close
// is called.
func (l *Logger) StartRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 || l.retention <= 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		l.Sweep(time.Now())
		for {
			select {
			case <-ticker.C:
				l.Sweep(time.Now())
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			}
		}
	}()
}

// Reset drops every in-memory event.
func (l *Logger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = make([]Event, 0, min(l.max, 1024))
	l.head = 0
	l.count = 0
	l.dropped = 0
}

// Close stops the retention loop and closes the sink.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
