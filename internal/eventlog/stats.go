package eventlog

import (
	"sort"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// ErrorStatistics summarizes error and retry events over a window.
type ErrorStatistics struct {
	Window      time.Duration
	TotalErrors int
	ByCode      map[tts.ErrorCode]int
	ByBackend   map[tts.BackendType]int
	BySeverity  map[string]int

	TotalRetries        int
	RequestsWithRetries int
	// AverageRetries is taken over requests that were retried at least once.
	AverageRetries float64
	MaxRetries     int
}

// PerformanceMetrics summarizes performance events over a window.
type PerformanceMetrics struct {
	Window       time.Duration
	RequestCount int
	SuccessCount int
	FailureCount int
	CacheHits    int
	SuccessRate  float64

	AverageLatency time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	P50Latency     time.Duration
	P95Latency     time.Duration
	P99Latency     time.Duration

	ByBackend map[tts.BackendType]int
}

func windowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return now.Add(-window)
}

// ErrorStatistics computes error and retry counts for the last window.
// A non-positive window covers every retained event.
func (l *Logger) ErrorStatistics(window time.Duration) ErrorStatistics {
	stats := ErrorStatistics{
		Window:     window,
		ByCode:     make(map[tts.ErrorCode]int),
		ByBackend:  make(map[tts.BackendType]int),
		BySeverity: make(map[string]int),
	}

	retries := make(map[string]int)
	for _, ev := range l.Events(windowStart(time.Now(), window)) {
		switch ev.Kind {
		case KindError:
			stats.TotalErrors++
			stats.ByCode[ev.Error.Code]++
			stats.BySeverity[ev.Error.Severity]++
			if ev.Backend != "" {
				stats.ByBackend[ev.Backend]++
			}
		case KindRetry:
			stats.TotalRetries++
			retries[ev.RequestID]++
		}
	}

	stats.RequestsWithRetries = len(retries)
	for _, n := range retries {
		if n > stats.MaxRetries {
			stats.MaxRetries = n
		}
	}
	if len(retries) > 0 {
		stats.AverageRetries = float64(stats.TotalRetries) / float64(len(retries))
	}
	return stats
}

// PerformanceMetrics computes latency and success figures for the last
// window. A non-positive window covers every retained event.
func (l *Logger) PerformanceMetrics(window time.Duration) PerformanceMetrics {
	m := PerformanceMetrics{
		Window:    window,
		ByBackend: make(map[tts.BackendType]int),
	}

	var latencies []time.Duration
	var total time.Duration
	for _, ev := range l.Events(windowStart(time.Now(), window)) {
		if ev.Kind != KindPerformance {
			continue
		}
		p := ev.Performance
		m.RequestCount++
		if p.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		if p.CacheHit {
			m.CacheHits++
		}
		if ev.Backend != "" {
			m.ByBackend[ev.Backend]++
		}
		d := p.Duration()
		latencies = append(latencies, d)
		total += d
	}

	if m.RequestCount == 0 {
		return m
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	m.SuccessRate = float64(m.SuccessCount) / float64(m.RequestCount)
	m.AverageLatency = total / time.Duration(m.RequestCount)
	m.MinLatency = latencies[0]
	m.MaxLatency = latencies[len(latencies)-1]
	m.P50Latency = percentile(latencies, 50)
	m.P95Latency = percentile(latencies, 95)
	m.P99Latency = percentile(latencies, 99)
	return m
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
