package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/eventlog"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dustin/go-humanize"
)

// healthWindow is the look-back used to judge the recent error rate.
const healthWindow = 5 * time.Minute

// ServiceStatus is a point-in-time view of the dispatcher.
type ServiceStatus struct {
	Available        bool
	Backend          tts.BackendType
	ActiveRequests   int
	ConcurrencyLimit int64
	CachingEnabled   bool

	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	RejectedRequests   int64
	CacheHits          int64
	SuccessRate        float64
	AverageLatency     time.Duration

	LastErrorCode tts.ErrorCode
	ConfigLoaded  time.Time
	Uptime        time.Duration
}

// ActiveRequestInfo describes one in-flight request.
type ActiveRequestInfo struct {
	RequestID string
	Text      string
	Priority  tts.Priority
	Backend   tts.BackendType
	State     State
	Attempt   int
	StartedAt time.Time
	Elapsed   time.Duration
	Deadline  time.Time
}

// HealthCheckResult is the outcome of PerformHealthCheck.
type HealthCheckResult struct {
	Healthy        bool
	Backend        tts.BackendType
	Available      bool
	Adapter        tts.HealthStatus
	RecentRequests int
	ErrorRate      float64
	Issues         []string
	CheckedAt      time.Time
}

// ResourceUsage reports what the dispatcher holds.
type ResourceUsage struct {
	ActiveRequests   int
	ActiveTimeouts   int
	ConcurrencyLimit int64
	EventLogEntries  int
	EventsDropped    int64
	Goroutines       int
	HeapAlloc        uint64
}

// String renders the usage on one line.
func (u ResourceUsage) String() string {
	return fmt.Sprintf("%d active, %d timeouts, %d/%d slots, %s events (%s dropped), %d goroutines, %s heap",
		u.ActiveRequests,
		u.ActiveTimeouts,
		u.ActiveRequests, u.ConcurrencyLimit,
		humanize.Comma(int64(u.EventLogEntries)),
		humanize.Comma(u.EventsDropped),
		u.Goroutines,
		humanize.Bytes(u.HeapAlloc))
}

// GetServiceStatus returns the current status. It never waits on
// in-flight work.
func (d *Dispatcher) GetServiceStatus() ServiceStatus {
	snap := d.snap.Load()

	d.mu.Lock()
	s := d.stats
	active := len(d.active)
	cacheSet := d.cache != nil
	d.mu.Unlock()

	status := ServiceStatus{
		Available:          snap.adapter.IsAvailable(),
		Backend:            snap.adapter.Backend(),
		ActiveRequests:     active,
		ConcurrencyLimit:   snap.limit,
		CachingEnabled:     snap.cfg.EnableCaching && cacheSet,
		TotalRequests:      s.total,
		SuccessfulRequests: s.succeeded,
		FailedRequests:     s.failed,
		RejectedRequests:   s.rejected,
		CacheHits:          s.cacheHits,
		ConfigLoaded:       snap.loadedAt,
		Uptime:             time.Since(d.started),
	}
	if s.total > 0 {
		status.SuccessRate = float64(s.succeeded) / float64(s.total)
		status.AverageLatency = s.latency / time.Duration(s.total)
	}
	if s.lastError != nil {
		status.LastErrorCode = s.lastError.Code
	}
	return status
}

// GetActiveRequests lists in-flight requests, oldest first.
func (d *Dispatcher) GetActiveRequests() []ActiveRequestInfo {
	now := time.Now()

	d.mu.Lock()
	infos := make([]ActiveRequestInfo, 0, len(d.active))
	for _, ar := range d.active {
		infos = append(infos, ActiveRequestInfo{
			RequestID: ar.req.ID,
			Text:      ar.req.Text,
			Priority:  ar.req.Priority,
			Backend:   ar.backend,
			State:     ar.machine.Current(),
			Attempt:   ar.attempts,
			StartedAt: ar.started,
			Elapsed:   now.Sub(ar.started),
			Deadline:  ar.token.Deadline,
		})
	}
	d.mu.Unlock()

	slices.SortFunc(infos, func(a, b ActiveRequestInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return infos
}

// PerformHealthCheck checks the active adapter and inspects recent errors.
func (d *Dispatcher) PerformHealthCheck(ctx context.Context) HealthCheckResult {
	snap := d.snap.Load()
	result := HealthCheckResult{
		Backend:   snap.adapter.Backend(),
		Available: snap.adapter.IsAvailable(),
		CheckedAt: time.Now(),
	}

	result.Adapter = snap.adapter.HealthStatus(ctx)
	if !result.Available {
		result.Issues = append(result.Issues, fmt.Sprintf("%s backend is not available", result.Backend))
	}
	if !result.Adapter.Healthy {
		result.Issues = append(result.Issues, "adapter: "+result.Adapter.Message)
	}

	perf := d.events.PerformanceMetrics(healthWindow)
	result.RecentRequests = perf.RequestCount
	if perf.RequestCount > 0 {
		result.ErrorRate = 1 - perf.SuccessRate
		if result.ErrorRate > 0.5 {
			result.Issues = append(result.Issues,
				fmt.Sprintf("%.0f%% of requests failed in the last %s", result.ErrorRate*100, healthWindow))
		}
	}

	d.mu.Lock()
	active := len(d.active)
	d.mu.Unlock()
	if n := d.timeouts.ActiveCount(); n > active {
		result.Issues = append(result.Issues, fmt.Sprintf("%d timeout tokens outlive their requests", n-active))
	}

	result.Healthy = len(result.Issues) == 0
	if !result.Healthy {
		d.logger.Warn("TTS health check failed", "backend", result.Backend, "issues", strings.Join(result.Issues, "; "))
	}
	return result
}

// GetPerformanceMetrics summarizes performance events over window. A
// non-positive window covers every retained event.
func (d *Dispatcher) GetPerformanceMetrics(window time.Duration) eventlog.PerformanceMetrics {
	return d.events.PerformanceMetrics(window)
}

// GetErrorStatistics summarizes error and retry events over window.
func (d *Dispatcher) GetErrorStatistics(window time.Duration) eventlog.ErrorStatistics {
	return d.events.ErrorStatistics(window)
}

// GetResourceUsage reports bookkeeping sizes and process memory.
func (d *Dispatcher) GetResourceUsage() ResourceUsage {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	d.mu.Lock()
	active := len(d.active)
	d.mu.Unlock()

	return ResourceUsage{
		ActiveRequests:   active,
		ActiveTimeouts:   d.timeouts.ActiveCount(),
		ConcurrencyLimit: d.snap.Load().limit,
		EventLogEntries:  d.events.Len(),
		EventsDropped:    d.events.Dropped(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAlloc:        mem.HeapAlloc,
	}
}
