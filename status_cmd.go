package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/dispatch"
	"github.com/dgnsrekt/vpet-tts/internal/eventlog"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
)

var (
	statsDays int

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the configured backend and resource usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openService(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close() //nolint:errcheck

			printStatus(cmd.OutOrStdout(), svc.dispatcher.GetServiceStatus(), svc.dispatcher.GetResourceUsage())
			return nil
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openService(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close() //nolint:errcheck

			result := svc.dispatcher.PerformHealthCheck(cmd.Context())
			printHealth(cmd.OutOrStdout(), result)
			if !result.Healthy {
				return errors.New("backend is unhealthy")
			}
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize persisted request events",
		Long:  paragraph(fmt.Sprintf("\n%s error and performance statistics from the event files written when %s is set.", keyword("Summarize"), keyword("tts.log.dir"))),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}
			if cfg.Log.Dir == "" {
				return errors.New("tts.log.dir is not set, no events were persisted")
			}

			sink, err := eventlog.NewFileSink(cfg.Log.Dir)
			if err != nil {
				return err
			}
			defer sink.Close() //nolint:errcheck

			events, err := loadEvents(sink, time.Now(), statsDays)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), statsDays, events.ErrorStatistics(0), events.PerformanceMetrics(0))
			return nil
		},
	}
)

func init() {
	statsCmd.Flags().IntVarP(&statsDays, "days", "d", 1, "number of days to include")
}

// loadEvents replays the last days of persisted events into an in-memory
// log. Missing day files are skipped.
func loadEvents(sink *eventlog.FileSink, now time.Time, days int) (*eventlog.Logger, error) {
	if days < 1 {
		days = 1
	}
	events := eventlog.New(eventlog.Options{MaxEntries: eventlog.DefaultMaxEntries * days, Logger: log.Default()})
	for i := days - 1; i >= 0; i-- {
		day, err := sink.ReadDay(now.AddDate(0, 0, -i))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for _, ev := range day {
			events.Append(ev)
		}
	}
	return events, nil
}

func printStatus(w io.Writer, s dispatch.ServiceStatus, u dispatch.ResourceUsage) {
	available := keyword("available")
	if !s.Available {
		available = failure("unavailable")
	}
	fmt.Fprintf(w, "Backend:      %s (%s)\n", s.Backend, available)
	fmt.Fprintf(w, "Concurrency:  %d\n", s.ConcurrencyLimit)
	fmt.Fprintf(w, "Caching:      %t\n", s.CachingEnabled)
	fmt.Fprintf(w, "Config:       loaded %s\n", humanize.Time(s.ConfigLoaded))
	fmt.Fprintf(w, "Requests:     %s total, %s ok, %s failed, %s rejected\n",
		humanize.Comma(s.TotalRequests),
		humanize.Comma(s.SuccessfulRequests),
		humanize.Comma(s.FailedRequests),
		humanize.Comma(s.RejectedRequests))
	fmt.Fprintf(w, "Resources:    %s\n", u)
}

func printHealth(w io.Writer, r dispatch.HealthCheckResult) {
	state := keyword("healthy")
	if !r.Healthy {
		state = failure("unhealthy")
	}
	fmt.Fprintf(w, "%s backend is %s\n", r.Backend, state)
	if r.Adapter.Message != "" {
		fmt.Fprintf(w, "  %s\n", faint(r.Adapter.Message))
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

func printStats(w io.Writer, days int, es eventlog.ErrorStatistics, pm eventlog.PerformanceMetrics) {
	fmt.Fprintf(w, "%s over the last %s\n\n", keyword("Requests"), english.Plural(days, "day", ""))
	fmt.Fprintf(w, "  %s requests, %.1f%% succeeded, %s cache hits\n",
		humanize.Comma(int64(pm.RequestCount)), pm.SuccessRate*100, humanize.Comma(int64(pm.CacheHits)))
	if pm.RequestCount > 0 {
		fmt.Fprintf(w, "  latency avg %s, p50 %s, p95 %s, p99 %s, max %s\n",
			pm.AverageLatency, pm.P50Latency, pm.P95Latency, pm.P99Latency, pm.MaxLatency)
	}

	fmt.Fprintf(w, "\n%s\n\n", keyword("Errors"))
	fmt.Fprintf(w, "  %s errors, %s retries across %s requests (max %d)\n",
		humanize.Comma(int64(es.TotalErrors)),
		humanize.Comma(int64(es.TotalRetries)),
		humanize.Comma(int64(es.RequestsWithRetries)),
		es.MaxRetries)

	codes := make([]tts.ErrorCode, 0, len(es.ByCode))
	for code := range es.ByCode {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %-24s %s\n", code, humanize.Comma(int64(es.ByCode[code])))
	}
	if len(codes) == 0 {
		fmt.Fprintln(w, faint("  none"))
	}
}
