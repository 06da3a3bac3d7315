package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/dispatch"
	"github.com/dgnsrekt/vpet-tts/internal/eventlog"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dgnsrekt/vpet-tts/internal/tts/engines/mock"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    tts.Priority
		wantErr bool
	}{
		{"", tts.PriorityNormal, false},
		{"low", tts.PriorityLow, false},
		{"HIGH", tts.PriorityHigh, false},
		{"immediate", tts.PriorityImmediate, false},
		{"urgent", tts.PriorityNormal, true},
	}

	for _, tt := range tests {
		got, err := parsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

type fakeRunner struct {
	name   string
	args   []string
	stderr []byte
	err    error
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string, _ io.Reader) ([]byte, []byte, error) {
	r.name, r.args = name, args
	return nil, r.stderr, r.err
}

func (r *fakeRunner) LookPath(name string) (string, error) { return "/usr/bin/" + name, nil }

func TestConsoleHost(t *testing.T) {
	t.Run("shows text", func(t *testing.T) {
		var out bytes.Buffer
		h := newConsoleHost(&out, "", &fakeRunner{})
		h.ShowText(context.Background(), "Hello there", 1500*time.Millisecond)

		if !strings.Contains(out.String(), "Hello there") {
			t.Errorf("output %q does not contain the text", out.String())
		}
		if !strings.Contains(out.String(), "1.5s") {
			t.Errorf("output %q does not contain the duration", out.String())
		}
	})

	t.Run("no player", func(t *testing.T) {
		r := &fakeRunner{}
		h := newConsoleHost(io.Discard, "", r)
		if err := h.PlayFile(context.Background(), "/tmp/a.wav"); err != nil {
			t.Fatalf("PlayFile() error = %v", err)
		}
		if r.name != "" {
			t.Errorf("runner called with %q", r.name)
		}
	})

	t.Run("player with args", func(t *testing.T) {
		r := &fakeRunner{}
		h := newConsoleHost(io.Discard, "aplay -q", r)
		if err := h.PlayFile(context.Background(), "/tmp/a.wav"); err != nil {
			t.Fatalf("PlayFile() error = %v", err)
		}
		if r.name != "aplay" {
			t.Errorf("player = %q, want aplay", r.name)
		}
		if want := []string{"-q", "/tmp/a.wav"}; strings.Join(r.args, " ") != strings.Join(want, " ") {
			t.Errorf("args = %v, want %v", r.args, want)
		}
	})

	t.Run("player failure", func(t *testing.T) {
		r := &fakeRunner{stderr: []byte("no such device\n"), err: errors.New("exit status 1")}
		h := newConsoleHost(io.Discard, "aplay", r)
		err := h.PlayFile(context.Background(), "/tmp/a.wav")
		if err == nil || !strings.Contains(err.Error(), "no such device") {
			t.Errorf("PlayFile() error = %v, want stderr in message", err)
		}
	})
}

func newTestDispatcher(t *testing.T, adapter *mock.Adapter) *dispatch.Dispatcher {
	t.Helper()
	cfg := tts.DefaultConfiguration()
	cfg.RetryDelayMs = 1
	cfg.EnableLogging = false

	d, err := dispatch.New(cfg, dispatch.Deps{
		Logger:   log.New(io.Discard),
		Adapters: dispatch.StaticAdapters(adapter),
	})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSpeakLines(t *testing.T) {
	adapter := mock.New(tts.BackendBuiltin)
	d := newTestDispatcher(t, adapter)

	in := strings.NewReader("Hello\n\n   \nHow are you?\n")
	if err := speakLines(context.Background(), d, in, io.Discard); err != nil {
		t.Fatalf("speakLines() error = %v", err)
	}
	if got := adapter.GetCallCount(); got != 2 {
		t.Errorf("adapter called %d times, want 2", got)
	}
	if got := adapter.PlayCount(); got != 2 {
		t.Errorf("played %d times, want 2", got)
	}
}

func TestSpeakLines_ReportsFailures(t *testing.T) {
	adapter := mock.New(tts.BackendBuiltin)
	adapter.SetFailure(tts.NewTTSError(tts.ErrorCodeConfigurationError, "no model"))
	d := newTestDispatcher(t, adapter)

	var errOut bytes.Buffer
	err := speakLines(context.Background(), d, strings.NewReader("one\ntwo\n"), &errOut)
	if err == nil {
		t.Fatal("speakLines() error = nil, want failure count")
	}
	if !strings.Contains(err.Error(), "2 of the requests failed") {
		t.Errorf("error = %q", err)
	}
	if !strings.Contains(errOut.String(), string(tts.ErrorCodeConfigurationError)) {
		t.Errorf("stderr %q does not name the error code", errOut.String())
	}
}

func perfEvent(id string, at time.Time, p eventlog.PerformancePayload) eventlog.Event {
	return eventlog.Event{
		Kind:        eventlog.KindPerformance,
		Timestamp:   at,
		RequestID:   id,
		Backend:     tts.BackendBuiltin,
		Performance: &p,
	}
}

func TestLoadEvents(t *testing.T) {
	dir := t.TempDir()
	sink, err := eventlog.NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	defer sink.Close() //nolint:errcheck

	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)
	for _, ev := range []eventlog.Event{
		perfEvent("a", yesterday, eventlog.PerformancePayload{DurationMs: 10, Success: true, Attempts: 1}),
		perfEvent("b", now, eventlog.PerformancePayload{DurationMs: 20, Attempts: 2}),
	} {
		if err := sink.Write(ev); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	events, err := loadEvents(sink, now, 1)
	if err != nil {
		t.Fatalf("loadEvents() error = %v", err)
	}
	if events.Len() != 1 {
		t.Errorf("one day: %d events, want 1", events.Len())
	}

	events, err = loadEvents(sink, now, 3)
	if err != nil {
		t.Fatalf("loadEvents() error = %v", err)
	}
	if got := events.PerformanceMetrics(0).RequestCount; got != 2 {
		t.Errorf("three days: %d requests, want 2", got)
	}
}

func TestServiceReloadEnablesCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := tts.DefaultConfiguration()
	cfg.EnableLogging = false
	svc, err := newService(ctx, cfg, nil, log.New(io.Discard))
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}
	defer svc.Close() //nolint:errcheck

	if svc.dispatcher.GetServiceStatus().CachingEnabled {
		t.Fatal("caching enabled before reload")
	}

	cfg.EnableCaching = true
	if !svc.reload(ctx, cfg) {
		t.Fatal("reload() rejected a valid configuration")
	}
	if !svc.dispatcher.GetServiceStatus().CachingEnabled {
		t.Error("caching still disabled after reload")
	}

	bad := cfg
	bad.TimeoutSeconds = 0
	if svc.reload(ctx, bad) {
		t.Error("reload() accepted an invalid configuration")
	}
}
