// Package dispatch routes speech requests to the configured backend adapter
// under a per-request deadline, a concurrency bound and a retry policy, and
// reports live status and statistics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/cache"
	"github.com/dgnsrekt/vpet-tts/internal/eventlog"
	"github.com/dgnsrekt/vpet-tts/internal/retry"
	"github.com/dgnsrekt/vpet-tts/internal/timeout"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const source = "dispatcher"

// Deps are the collaborators of a Dispatcher. Zero fields get defaults.
type Deps struct {
	Logger   *log.Logger
	Events   *eventlog.Logger
	Timeouts *timeout.Manager
	Adapters AdapterFactory
	// Cache is consulted when the configuration enables caching.
	Cache tts.AudioCache
}

// snapshot is one immutable configuration together with everything
// resolved from it. Requests hold the snapshot they started with. The gate
// is carried over between snapshots that share a backend and a limit.
type snapshot struct {
	cfg      tts.Configuration
	adapter  tts.Adapter
	strategy *retry.Strategy
	gate     *semaphore.Weighted
	limit    int64
	loadedAt time.Time
}

type activeRequest struct {
	req      *tts.Request
	token    *timeout.Token
	backend  tts.BackendType
	started  time.Time
	machine  *stateMachine
	attempts int
}

type counters struct {
	total     int64
	succeeded int64
	failed    int64
	rejected  int64
	cacheHits int64
	latency   time.Duration
	lastError *tts.TTSError
}

// Dispatcher is the single entry point for speech requests. It is safe for
// concurrent use.
type Dispatcher struct {
	snap atomic.Pointer[snapshot]

	logger   *log.Logger
	events   *eventlog.Logger
	timeouts *timeout.Manager
	adapters AdapterFactory

	// reload serializes configuration swaps.
	reload sync.Mutex

	mu      sync.Mutex
	cache   tts.AudioCache
	active  map[string]*activeRequest
	stats   counters
	retired []tts.Adapter
	started time.Time
}

// New creates a dispatcher for cfg.
func New(cfg tts.Configuration, deps Deps) (*Dispatcher, error) {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Events == nil {
		deps.Events = eventlog.New(eventlog.Options{
			MaxEntries:    cfg.Log.MaxEntries,
			RetentionDays: cfg.Log.RetentionDays,
			Logger:        deps.Logger,
		})
	}
	if deps.Timeouts == nil {
		deps.Timeouts = timeout.NewManager(deps.Logger)
	}
	if deps.Adapters == nil {
		deps.Adapters = NewAdapterFactory(FactoryOptions{Logger: deps.Logger})
	}

	d := &Dispatcher{
		logger:   deps.Logger,
		events:   deps.Events,
		timeouts: deps.Timeouts,
		adapters: deps.Adapters,
		cache:    deps.Cache,
		active:   make(map[string]*activeRequest),
		started:  time.Now(),
	}

	snap, err := d.resolve(cfg)
	if err != nil {
		return nil, err
	}
	d.install(snap)
	return d, nil
}

func (d *Dispatcher) resolve(cfg tts.Configuration) (*snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TTS configuration: %w", err)
	}
	adapter, err := d.adapters(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapter: %w", err)
	}
	limit := ConcurrencyLimit(cfg)

	// Calls still running under the previous snapshot hold slots of its
	// gate, so a reload that keeps the backend and the limit keeps the gate.
	gate := semaphore.NewWeighted(limit)
	if prev := d.snap.Load(); prev != nil && prev.limit == limit && prev.adapter.Backend() == adapter.Backend() {
		gate = prev.gate
	}
	return &snapshot{
		cfg:      cfg,
		adapter:  adapter,
		strategy: retry.FromConfiguration(cfg, d.logger),
		gate:     gate,
		limit:    limit,
		loadedAt: time.Now(),
	}, nil
}

func (d *Dispatcher) install(snap *snapshot) {
	d.events.SetVerbose(snap.cfg.EnableLogging)
	if prev := d.snap.Swap(snap); prev != nil && prev.adapter != snap.adapter {
		d.mu.Lock()
		d.retired = append(d.retired, prev.adapter)
		d.mu.Unlock()
	}
}

// ConcurrencyLimit returns the admission bound for cfg: MaxConcurrent when
// set, otherwise one exclusive session for the builtin renderer and four
// for networked backends.
func ConcurrencyLimit(cfg tts.Configuration) int64 {
	if cfg.MaxConcurrent > 0 {
		return int64(cfg.MaxConcurrent)
	}
	if cfg.Backend() == tts.BackendBuiltin {
		return 1
	}
	return 4
}

// UpdateConfiguration swaps in cfg for requests dispatched from now on.
// In-flight requests finish on the configuration they started with. It
// returns false and keeps the current configuration when cfg is invalid.
func (d *Dispatcher) UpdateConfiguration(cfg tts.Configuration) bool {
	d.reload.Lock()
	defer d.reload.Unlock()

	snap, err := d.resolve(cfg)
	if err != nil {
		d.logger.Warn("Rejected TTS configuration", "error", err)
		return false
	}
	d.install(snap)
	d.logger.Info("TTS configuration updated",
		"backend", snap.adapter.Backend(),
		"max_concurrent", snap.limit,
		"timeout", snap.cfg.Timeout())
	return true
}

// SetCache replaces the audio cache consulted when the configuration
// enables caching. A nil cache disables lookups.
func (d *Dispatcher) SetCache(c tts.AudioCache) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = c
}

func (d *Dispatcher) audioCache() tts.AudioCache {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache
}

// Configuration returns the active configuration.
func (d *Dispatcher) Configuration() tts.Configuration {
	return d.snap.Load().cfg
}

// ValidateRequest checks req without side effects.
func (d *Dispatcher) ValidateRequest(req *tts.Request) tts.ValidationResult {
	return tts.ValidateRequest(req)
}

// ProcessRequest renders req and returns the terminal response. It never
// returns nil.
func (d *Dispatcher) ProcessRequest(ctx context.Context, req *tts.Request) *tts.Response {
	resp, _ := d.process(ctx, req)
	return resp
}

// Speak renders req and then waits for playback through the adapter that
// rendered it.
func (d *Dispatcher) Speak(ctx context.Context, req *tts.Request) *tts.Response {
	resp, adapter := d.process(ctx, req)
	if !resp.Success || adapter == nil {
		return resp
	}

	res := &tts.AudioResult{
		Success:     true,
		Audio:       resp.Audio,
		FilePath:    resp.FilePath,
		ContentType: resp.ContentType,
		Duration:    resp.AudioDuration,
		Text:        req.Text,
	}
	if err := adapter.WaitForPlayback(ctx, res); err != nil {
		terr := tts.FromFault(err, "playback", req.ID)
		d.logger.Warn("Playback failed", "request_id", req.ID, "error", err)
		failed := tts.FailureResponse(req, resp.Adapter, terr)
		failed.ProcessingTime = resp.ProcessingTime
		failed.Attempts = resp.Attempts
		return failed
	}
	return resp
}

func (d *Dispatcher) process(ctx context.Context, req *tts.Request) (*tts.Response, tts.Adapter) {
	start := time.Now()
	machine := newStateMachine()
	machine.Transition(StateValidating)

	// The ID keys the timeout token and the active set.
	if req != nil && req.ID == "" {
		req.ID = uuid.NewString()
	}
	if v := tts.ValidateRequest(req); !v.Valid {
		machine.Transition(StateRejected)
		return d.reject(req, v), nil
	}
	machine.Transition(StateDispatching)

	snap := d.snap.Load()
	backend := snap.adapter.Backend()

	budget := snap.cfg.Timeout()
	if req.Settings.TimeoutMs > 0 {
		budget = time.Duration(req.Settings.TimeoutMs) * time.Millisecond
	}

	if req.Priority == tts.PriorityImmediate {
		d.preempt(req)
	}

	tok := d.timeouts.CreateTimeoutToken(ctx, req.ID, budget)
	defer d.timeouts.Release(tok)

	ec := tts.NewErrorContext(req.ID, backend)
	ec.MaxRetries = snap.strategy.MaxRetries
	ec.StartTime = tok.Created
	ec.TimeoutMs = int(budget / time.Millisecond)
	ec.Metadata["priority"] = req.Priority.String()

	ar := &activeRequest{req: req, token: tok, backend: backend, started: start, machine: machine}
	d.track(ar)
	defer d.untrack(ar)

	d.logger.Debug("Dispatching request",
		"request_id", req.ID,
		"backend", backend,
		"priority", req.Priority,
		"timeout", budget)

	var key string
	store := d.audioCache()
	if snap.cfg.EnableCaching && store != nil {
		key = cache.RequestKey(req, backend)
		if audio, ok := store.Get(key); ok {
			d.transition(ar, StateSucceeded)
			resp := &tts.Response{
				Success:       true,
				Audio:         audio,
				ContentType:   req.Settings.Format.ContentType(),
				AudioDuration: snap.adapter.EstimateDuration(req.Text, req.Settings.Speed),
				Adapter:       backend,
				RequestID:     req.ID,
				CacheHit:      true,
				Timestamp:     time.Now(),
			}
			return d.finish(req, resp, start, nil), snap.adapter
		}
	}

	var last *tts.TTSError
	for {
		d.transition(ar, StateAttempting)
		d.setAttempts(ar, ec.AttemptCount+1)

		res := d.attempt(tok, snap, req, ec)
		if res.Success {
			d.transition(ar, StateSucceeded)
			resp := tts.SuccessResponse(req, backend, res)
			if resp.AudioDuration <= 0 {
				resp.AudioDuration = snap.adapter.EstimateDuration(req.Text, req.Settings.Speed)
			}
			if key != "" && len(res.Audio) > 0 {
				if err := store.Put(key, res.Audio); err != nil {
					d.logger.Debug("Failed to cache audio", "request_id", req.ID, "error", err)
				}
			}
			resp.Attempts = ec.AttemptCount + 1
			return d.finish(req, resp, start, nil), snap.adapter
		}

		err := res.Err
		if err.RequestID == "" {
			err.RequestID = req.ID
		}
		if tok.Context().Err() != nil {
			// The deadline or a cancellation ended the attempt.
			last = d.interrupted(tok, ec, err)
			d.events.LogError(last, backend, ec.AttemptCount)
			break
		}

		d.events.LogError(err, backend, ec.AttemptCount)
		decision := snap.strategy.HandleError(err, ec)
		if !decision.Retry {
			last = decision.Err
			if last != err {
				// Converted to a Timeout before the budget ran out.
				d.events.LogError(last, backend, ec.AttemptCount)
			}
			break
		}

		d.transition(ar, StateRetrying)
		d.events.LogRetry(req.ID, backend, ec.AttemptCount+1, decision.Delay, err.Code)
		d.logger.Debug("Retrying request",
			"request_id", req.ID,
			"attempt", ec.AttemptCount+1,
			"delay", decision.Delay,
			"code", err.Code)

		if !sleep(tok.Context(), decision.Delay) {
			last = d.interrupted(tok, ec, err)
			d.events.LogError(last, backend, ec.AttemptCount)
			break
		}
		ec.AttemptCount++
		req.RetryCount = ec.AttemptCount
	}

	d.transition(ar, StateFailed)
	resp := tts.FailureResponse(req, backend, last)
	resp.Attempts = ec.AttemptCount + 1
	return d.finish(req, resp, start, last), snap.adapter
}

// attempt runs one adapter call under the admission gate. It returns once
// the adapter answers or the token ends, whichever is first; an adapter
// that ignores cancellation keeps its slot until it returns.
func (d *Dispatcher) attempt(tok *timeout.Token, snap *snapshot, req *tts.Request, ec *tts.ErrorContext) *tts.AudioResult {
	ctx := tok.Context()
	if err := snap.gate.Acquire(ctx, 1); err != nil {
		return tts.Failed(d.interrupted(tok, ec, nil))
	}

	results := make(chan *tts.AudioResult, 1)
	go func() {
		defer snap.gate.Release(1)
		defer func() {
			if r := recover(); r != nil {
				results <- tts.Failed(tts.NewTTSError(tts.ErrorCodeProcessingError, "adapter panicked").
					WithSeverity(tts.SeverityCritical).
					WithRetryable(false).
					WithDetails("%v", r).
					WithSource(string(snap.adapter.Backend())).
					WithRequestID(req.ID))
			}
		}()
		results <- snap.adapter.GenerateAudio(ctx, req.Text, tts.OptionsFromSettings(req.ID, req.Settings))
	}()

	select {
	case res := <-results:
		if res == nil || (!res.Success && res.Err == nil) {
			return tts.Failed(tts.NewTTSError(tts.ErrorCodeProcessingError, "adapter returned no result").
				WithSource(string(snap.adapter.Backend())).
				WithRequestID(req.ID))
		}
		return res
	case <-ctx.Done():
		return tts.Failed(d.interrupted(tok, ec, nil))
	}
}

// interrupted builds the terminal error for a token that ended early.
func (d *Dispatcher) interrupted(tok *timeout.Token, ec *tts.ErrorContext, last *tts.TTSError) *tts.TTSError {
	var cause error
	if last != nil {
		cause = last
	}

	why := context.Cause(tok.Context())
	if errors.Is(why, timeout.ErrDeadlineExceeded) || errors.Is(why, context.DeadlineExceeded) {
		return retry.TimeoutError(ec, cause)
	}
	te := tts.NewTTSError(tts.ErrorCodeProcessingError, "request cancelled").
		WithSeverity(tts.SeverityWarning).
		WithRetryable(false).
		WithSource(source).
		WithRequestID(ec.RequestID).
		WithDetails("%v", why)
	if cause != nil {
		te.WithCause(cause)
	}
	return te
}

func (d *Dispatcher) reject(req *tts.Request, v tts.ValidationResult) *tts.Response {
	id := ""
	if req != nil {
		id = req.ID
	}
	err := v.Err(id)

	d.mu.Lock()
	d.stats.rejected++
	d.mu.Unlock()

	d.logger.Debug("Rejected request", "request_id", id, "details", err.Details)
	return &tts.Response{
		ErrorCode:    err.Code,
		ErrorMessage: tts.UserMessage(err.Code),
		ErrorDetails: err.Details,
		RequestID:    id,
		Timestamp:    time.Now(),
	}
}

// finish stamps timing, records the outcome and returns resp.
func (d *Dispatcher) finish(req *tts.Request, resp *tts.Response, start time.Time, failure *tts.TTSError) *tts.Response {
	resp.ProcessingTime = time.Since(start)

	d.events.LogPerformance(req.ID, resp.Adapter, eventlog.PerformancePayload{
		DurationMs: resp.ProcessingTime.Milliseconds(),
		Success:    resp.Success,
		TextLength: utf8.RuneCountInString(req.Text),
		Attempts:   resp.Attempts,
		CacheHit:   resp.CacheHit,
	})

	d.mu.Lock()
	d.stats.total++
	d.stats.latency += resp.ProcessingTime
	if resp.Success {
		d.stats.succeeded++
		if resp.CacheHit {
			d.stats.cacheHits++
		}
	} else {
		d.stats.failed++
		d.stats.lastError = failure
	}
	d.mu.Unlock()

	if resp.Success {
		d.logger.Debug("Request succeeded",
			"request_id", req.ID,
			"attempts", resp.Attempts,
			"cache_hit", resp.CacheHit,
			"elapsed", resp.ProcessingTime)
	} else {
		d.logger.Warn("Request failed",
			"request_id", req.ID,
			"code", resp.ErrorCode,
			"attempts", resp.Attempts,
			"details", resp.ErrorDetails)
	}
	return resp
}

// preempt cancels in-flight requests of lower priority than req.
func (d *Dispatcher) preempt(req *tts.Request) {
	d.mu.Lock()
	var victims []string
	for id, ar := range d.active {
		if id != req.ID && ar.req.Priority < req.Priority {
			victims = append(victims, id)
		}
	}
	d.mu.Unlock()

	for _, id := range victims {
		if d.timeouts.CancelTimeout(id) {
			d.logger.Debug("Pre-empted request", "request_id", id, "by", req.ID)
		}
	}
}

func (d *Dispatcher) track(ar *activeRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[ar.req.ID] = ar
}

func (d *Dispatcher) untrack(ar *activeRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[ar.req.ID] == ar {
		delete(d.active, ar.req.ID)
	}
}

func (d *Dispatcher) transition(ar *activeRequest, to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from := ar.machine.Current(); !ar.machine.Transition(to) {
		d.logger.Debug("Ignoring invalid state transition", "request_id", ar.req.ID, "from", from, "to", to)
	}
}

func (d *Dispatcher) setAttempts(ar *activeRequest, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ar.attempts = n
}

// CancelCurrentRequest cancels the most recently started in-flight request.
// Work an adapter has already committed to is not aborted.
func (d *Dispatcher) CancelCurrentRequest() bool {
	d.mu.Lock()
	var latest *activeRequest
	for _, ar := range d.active {
		if latest == nil || ar.started.After(latest.started) {
			latest = ar
		}
	}
	d.mu.Unlock()

	if latest == nil {
		return false
	}
	d.logger.Debug("Cancelling request", "request_id", latest.req.ID)
	return d.timeouts.CancelTimeout(latest.req.ID)
}

// IsActive reports whether any request is in flight.
func (d *Dispatcher) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active) > 0
}

// Reset cancels all in-flight work and clears counters, bookkeeping and the
// event log.
func (d *Dispatcher) Reset() {
	d.timeouts.CleanupAll()

	d.mu.Lock()
	d.active = make(map[string]*activeRequest)
	d.stats = counters{}
	d.mu.Unlock()

	d.events.Reset()
	d.logger.Info("TTS dispatcher reset")
}

// ResetStatistics clears counters and the event log without touching
// in-flight work.
func (d *Dispatcher) ResetStatistics() {
	d.mu.Lock()
	d.stats = counters{}
	d.mu.Unlock()
	d.events.Reset()
}

// Events returns the event log.
func (d *Dispatcher) Events() *eventlog.Logger {
	return d.events
}

// Close cancels in-flight work and releases adapters that own resources.
func (d *Dispatcher) Close() error {
	d.timeouts.CleanupAll()

	d.mu.Lock()
	adapters := append(d.retired, d.snap.Load().adapter)
	d.retired = nil
	d.mu.Unlock()

	var errs []error
	seen := make(map[tts.Adapter]bool)
	for _, a := range adapters {
		if seen[a] {
			continue
		}
		seen[a] = true
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
