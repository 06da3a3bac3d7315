// Package mock provides a mock TTS adapter for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dgnsrekt/vpet-tts/internal/tts/engines"
)

// Adapter implements tts.Adapter for testing. It is safe for concurrent use.
type Adapter struct {
	backend   tts.BackendType
	durations engines.DurationModel

	mu           sync.Mutex
	delay        time.Duration
	ignoreCancel bool
	available    bool
	failure      *tts.TTSError
	sequence     []*tts.TTSError
	callCount    int
	inFlight     int
	maxInFlight  int
	played       int
}

// New creates a mock adapter posing as backend.
func New(backend tts.BackendType) *Adapter {
	return &Adapter{
		backend:   backend,
		durations: engines.BuiltinDurationModel,
		available: true,
	}
}

// Backend implements tts.Adapter.
func (a *Adapter) Backend() tts.BackendType { return a.backend }

// IsAvailable returns the mock availability state.
func (a *Adapter) IsAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// GenerateAudio simulates audio generation.
func (a *Adapter) GenerateAudio(ctx context.Context, text string, opts tts.GenerateOptions) *tts.AudioResult {
	a.mu.Lock()
	a.callCount++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	delay, ignoreCancel := a.delay, a.ignoreCancel
	var fail *tts.TTSError
	if len(a.sequence) > 0 {
		fail, a.sequence = a.sequence[0], a.sequence[1:]
	} else if a.failure != nil {
		fail = a.failure
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	// Simulate processing delay
	if delay > 0 {
		if ignoreCancel {
			time.Sleep(delay)
		} else {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return tts.Failed(tts.FromFault(ctx.Err(), "mock", opts.RequestID))
			}
		}
	}

	if fail != nil {
		// copy so callers can mutate the returned error
		e := *fail
		e.RequestID = opts.RequestID
		return tts.Failed(&e)
	}

	return &tts.AudioResult{
		Success:     true,
		Audio:       []byte("RIFF" + text),
		ContentType: tts.FormatWAV.ContentType(),
		Duration:    a.EstimateDuration(text, opts.Speed),
		Text:        text,
	}
}

// WaitForPlayback records the playback and returns immediately.
func (a *Adapter) WaitForPlayback(ctx context.Context, _ *tts.AudioResult) error {
	a.mu.Lock()
	a.played++
	a.mu.Unlock()
	return ctx.Err()
}

// EstimateDuration implements tts.Adapter.
func (a *Adapter) EstimateDuration(text string, speed float64) time.Duration {
	return a.durations.Estimate(text, speed)
}

// HealthStatus reports the availability state.
func (a *Adapter) HealthStatus(context.Context) tts.HealthStatus {
	ok := a.IsAvailable()
	msg := "mock ready"
	if !ok {
		msg = "mock unavailable"
	}
	return tts.HealthStatus{Healthy: ok, Message: msg, LastCheck: time.Now()}
}

// Test control methods

// SetDelay sets the simulated processing delay.
func (a *Adapter) SetDelay(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = delay
}

// SetIgnoreCancel makes the simulated delay deaf to cancellation.
func (a *Adapter) SetIgnoreCancel(ignore bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ignoreCancel = ignore
}

// SetAvailable sets the value IsAvailable reports.
func (a *Adapter) SetAvailable(available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = available
}

// SetFailure makes every call fail with err.
func (a *Adapter) SetFailure(err *tts.TTSError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failure = err
}

// SetFailureSequence makes the next calls fail with errs, in order.
func (a *Adapter) SetFailureSequence(errs ...*tts.TTSError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sequence = append([]*tts.TTSError(nil), errs...)
}

// ClearFailure resets the adapter to normal operation.
func (a *Adapter) ClearFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failure = nil
	a.sequence = nil
}

// GetCallCount returns the number of GenerateAudio calls.
func (a *Adapter) GetCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callCount
}

// MaxInFlight returns the highest number of concurrent GenerateAudio calls seen.
func (a *Adapter) MaxInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

// PlayCount returns the number of WaitForPlayback calls.
func (a *Adapter) PlayCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.played
}
