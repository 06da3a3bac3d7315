package engines

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// fakeRunner stands in for the piper binary.
type fakeRunner struct {
	mu      sync.Mutex
	missing bool
	output  []byte
	stderr  string
	err     error
	block   bool
	args    [][]string
	stdin   []string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing {
		return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(ctx context.Context, _ string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	f.mu.Lock()
	f.args = append(f.args, args)
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		f.stdin = append(f.stdin, string(b))
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if f.err != nil {
		return nil, []byte(f.stderr), f.err
	}
	if i := slices.Index(args, "--output_file"); i >= 0 && i+1 < len(args) {
		if err := os.WriteFile(args[i+1], f.output, 0o644); err != nil {
			return nil, nil, err
		}
	}
	if slices.Contains(args, "--version") {
		return []byte("1.2.0\n"), nil, nil
	}
	return nil, nil, nil
}

// recordingHost records what it was asked to show and play.
type recordingHost struct {
	mu     sync.Mutex
	shown  []string
	played []string
	data   [][]byte
}

func (h *recordingHost) ShowText(_ context.Context, text string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = append(h.shown, text)
}

func (h *recordingHost) PlayFile(_ context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played = append(h.played, path)
	h.data = append(h.data, b)
	return nil
}

func newTestBuiltin(t *testing.T, runner *fakeRunner, host tts.Host) *Builtin {
	t.Helper()
	return NewBuiltin(tts.BuiltinConfig{Binary: "piper", Model: "/models/voice.onnx", Voice: "3"},
		BuiltinOptions{Runner: runner, Host: host, TempDir: t.TempDir()})
}

func TestBuiltin_GenerateAudio(t *testing.T) {
	runner := &fakeRunner{output: []byte("RIFFdata")}
	b := newTestBuiltin(t, runner, nil)

	res := b.GenerateAudio(context.Background(), "Hello pet", tts.GenerateOptions{RequestID: "r1", Speed: 2.0})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if string(res.Audio) != "RIFFdata" {
		t.Errorf("audio = %q", res.Audio)
	}
	if res.FilePath != "" {
		t.Errorf("file path = %q, want the rendered file removed", res.FilePath)
	}
	if res.ContentType != "audio/wav" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v", res.Duration)
	}

	args := runner.args[0]
	if len(args) < 4 {
		t.Fatalf("args = %v", args)
	}
	out := args[3]
	want := []string{"--model", "/models/voice.onnx", "--output_file", out, "--length_scale", "0.50", "--speaker", "3"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
	if runner.stdin[0] != "Hello pet" {
		t.Errorf("stdin = %q", runner.stdin[0])
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("rendered file %s should be removed once read", out)
	}
}

func TestBuiltin_ConfiguredSpeed(t *testing.T) {
	cfg := tts.DefaultConfiguration()
	cfg.Builtin.Model = "/models/voice.onnx"
	cfg.Builtin.Speed = 2.0

	tests := []struct {
		name string
		opts tts.GenerateOptions
		want string
	}{
		{"request settings seeded from config", tts.OptionsFromSettings("r1", cfg.RequestSettings()), "0.50"},
		{"unset speed falls back to config", tts.GenerateOptions{RequestID: "r2"}, "0.50"},
		{"request speed wins", tts.GenerateOptions{RequestID: "r3", Speed: 0.5}, "2.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{output: []byte("RIFF")}
			b := NewBuiltin(cfg.Builtin, BuiltinOptions{Runner: runner, TempDir: t.TempDir()})

			res := b.GenerateAudio(context.Background(), "hi", tt.opts)
			if !res.Success {
				t.Fatalf("GenerateAudio failed: %v", res.Err)
			}
			args := runner.args[0]
			i := slices.Index(args, "--length_scale")
			if i < 0 || i+1 >= len(args) {
				t.Fatalf("args = %v, want --length_scale", args)
			}
			if args[i+1] != tt.want {
				t.Errorf("length_scale = %s, want %s", args[i+1], tt.want)
			}
		})
	}
}

func TestBuiltin_NamedVoiceSkipsSpeaker(t *testing.T) {
	runner := &fakeRunner{output: []byte("RIFF")}
	b := newTestBuiltin(t, runner, nil)

	res := b.GenerateAudio(context.Background(), "hi", tts.GenerateOptions{Voice: "amy"})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if slices.Contains(runner.args[0], "--speaker") {
		t.Errorf("unexpected --speaker in %v", runner.args[0])
	}
}

func TestBuiltin_Failures(t *testing.T) {
	tests := []struct {
		name      string
		runner    *fakeRunner
		text      string
		opts      tts.GenerateOptions
		wantCode  tts.ErrorCode
		wantRetry bool
	}{
		{
			name:     "empty text",
			runner:   &fakeRunner{},
			text:     "  ",
			wantCode: tts.ErrorCodeValidationFailed,
		},
		{
			name:     "mp3 requested",
			runner:   &fakeRunner{},
			text:     "hello",
			opts:     tts.GenerateOptions{Format: tts.FormatMP3},
			wantCode: tts.ErrorCodeUnsupportedFormat,
		},
		{
			name:      "binary missing",
			runner:    &fakeRunner{missing: true},
			text:      "hello",
			wantCode:  tts.ErrorCodeAdapterUnavailable,
			wantRetry: true,
		},
		{
			name:     "model not found",
			runner:   &fakeRunner{err: errors.New("exit status 1"), stderr: "Model file /models/voice.onnx not found"},
			text:     "hello",
			wantCode: tts.ErrorCodeConfigurationError,
		},
		{
			name:      "process crash",
			runner:    &fakeRunner{err: errors.New("exit status 139")},
			text:      "hello",
			wantCode:  tts.ErrorCodeProcessingError,
			wantRetry: true,
		},
		{
			name:      "no output",
			runner:    &fakeRunner{output: nil},
			text:      "hello",
			wantCode:  tts.ErrorCodeProcessingError,
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuiltin(t, tt.runner, nil)
			res := b.GenerateAudio(context.Background(), tt.text, tt.opts)
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Err.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", res.Err.Code, tt.wantCode)
			}
			if res.Err.Retryable != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", res.Err.Retryable, tt.wantRetry)
			}
			if res.Err.Source != "builtin" {
				t.Errorf("source = %q", res.Err.Source)
			}
		})
	}
}

func TestBuiltin_Deadline(t *testing.T) {
	b := newTestBuiltin(t, &fakeRunner{block: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := b.GenerateAudio(ctx, "hello", tts.GenerateOptions{})
	if time.Since(start) > time.Second {
		t.Error("GenerateAudio did not return promptly after the deadline")
	}
	if res.Success || res.Err.Code != tts.ErrorCodeTimeout {
		t.Fatalf("expected timeout, got %+v", res.Err)
	}

	entries, err := os.ReadDir(b.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}
}

func TestBuiltin_WaitForPlayback(t *testing.T) {
	host := &recordingHost{}
	b := newTestBuiltin(t, &fakeRunner{output: []byte("RIFFdata")}, host)

	res := b.GenerateAudio(context.Background(), "hello", tts.GenerateOptions{})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if err := b.WaitForPlayback(context.Background(), res); err != nil {
		t.Fatalf("WaitForPlayback: %v", err)
	}

	if len(host.shown) != 1 || host.shown[0] != "hello" {
		t.Errorf("shown = %v", host.shown)
	}
	if len(host.played) != 1 {
		t.Fatalf("played = %v", host.played)
	}
	if _, err := os.Stat(host.played[0]); !os.IsNotExist(err) {
		t.Errorf("playback file should be removed after playback")
	}
	entries, err := os.ReadDir(b.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}
}

func TestBuiltin_HealthStatus(t *testing.T) {
	b := newTestBuiltin(t, &fakeRunner{}, nil)
	h := b.HealthStatus(context.Background())
	if !h.Healthy {
		t.Fatalf("expected healthy, got %q", h.Message)
	}
	if h.Message != "piper 1.2.0" {
		t.Errorf("message = %q", h.Message)
	}

	b = newTestBuiltin(t, &fakeRunner{missing: true}, nil)
	if b.IsAvailable() {
		t.Error("IsAvailable should be false without the binary")
	}
	if h := b.HealthStatus(context.Background()); h.Healthy {
		t.Error("expected unhealthy without the binary")
	}
}

func TestBuiltin_CloseKeepsCallerDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "render")
	b := NewBuiltin(tts.BuiltinConfig{}, BuiltinOptions{Runner: &fakeRunner{output: []byte("x")}, TempDir: dir})
	if res := b.GenerateAudio(context.Background(), "hi", tts.GenerateOptions{}); !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("caller-provided dir was removed: %v", err)
	}
}
