package engines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// Builtin renders speech with a local Piper process and plays it through
// the pet host. It writes WAV files into its own temp directory.
type Builtin struct {
	binary string
	model  string
	voice  string
	speed  float64

	runner    CommandRunner
	host      tts.Host
	logger    *log.Logger
	durations DurationModel

	mu      sync.Mutex
	tempDir string
	ownsDir bool
}

// BuiltinOptions holds the collaborators of the builtin adapter.
type BuiltinOptions struct {
	// Runner defaults to ExecCommandRunner.
	Runner CommandRunner

	// Host plays rendered files. Without one, playback is simulated by
	// waiting out the estimated duration.
	Host tts.Host

	// TempDir for rendered files - defaults to a fresh dir under os.TempDir
	TempDir string

	Logger *log.Logger
}

// NewBuiltin creates the builtin adapter.
func NewBuiltin(cfg tts.BuiltinConfig, opts BuiltinOptions) *Builtin {
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if opts.Runner == nil {
		opts.Runner = ExecCommandRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Builtin{
		binary:    cfg.Binary,
		model:     cfg.Model,
		voice:     cfg.Voice,
		speed:     cfg.Speed,
		runner:    opts.Runner,
		host:      opts.Host,
		logger:    opts.Logger,
		durations: BuiltinDurationModel,
		tempDir:   opts.TempDir,
	}
}

// Backend implements tts.Adapter.
func (b *Builtin) Backend() tts.BackendType { return tts.BackendBuiltin }

// IsAvailable reports whether the Piper binary can be found.
func (b *Builtin) IsAvailable() bool {
	_, err := b.runner.LookPath(b.binary)
	return err == nil
}

// GenerateAudio implements tts.Adapter.
func (b *Builtin) GenerateAudio(ctx context.Context, text string, opts tts.GenerateOptions) *tts.AudioResult {
	const source = "builtin"

	if err := ctx.Err(); err != nil {
		return tts.Failed(tts.FromFault(err, source, opts.RequestID))
	}
	if strings.TrimSpace(text) == "" {
		return tts.Failed(tts.FromFault(fmt.Errorf("%w: empty text", tts.ErrInvalidArgument), source, opts.RequestID))
	}
	if opts.Format != "" && opts.Format != tts.FormatWAV {
		return tts.Failed(tts.NewTTSError(tts.ErrorCodeUnsupportedFormat, "builtin renderer only produces wav").
			WithDetails("requested %s", opts.Format).
			WithSource(source).
			WithRequestID(opts.RequestID))
	}

	bin, err := b.runner.LookPath(b.binary)
	if err != nil {
		return tts.Failed(tts.FromFault(fmt.Errorf("%w: %v", tts.ErrBackendUnavailable, err), source, opts.RequestID))
	}

	dir, err := b.workDir()
	if err != nil {
		return tts.Failed(tts.FromFault(err, source, opts.RequestID))
	}
	f, err := os.CreateTemp(dir, "vpet-tts-*.wav")
	if err != nil {
		return tts.Failed(tts.FromFault(err, source, opts.RequestID))
	}
	out := f.Name()
	_ = f.Close()
	// Callers get the bytes; playback writes its own copy.
	defer os.Remove(out) //nolint:errcheck

	args := b.buildArgs(out, opts)
	start := time.Now()
	_, stderr, err := b.runner.Run(ctx, bin, args, strings.NewReader(text))
	if err != nil {
		return tts.Failed(b.classify(ctx, err, stderr, opts.RequestID))
	}

	audio, err := os.ReadFile(out)
	if err != nil {
		return tts.Failed(tts.FromFault(err, source, opts.RequestID))
	}
	if len(audio) == 0 {
		return tts.Failed(tts.NewTTSError(tts.ErrorCodeProcessingError, "piper produced no audio").
			WithDetails("stderr: %s", strings.TrimSpace(string(stderr))).
			WithSource(source).
			WithRequestID(opts.RequestID))
	}

	b.logger.Debug("Piper synthesis complete",
		"request_id", opts.RequestID,
		"bytes", len(audio),
		"elapsed", time.Since(start))

	return &tts.AudioResult{
		Success:     true,
		Audio:       audio,
		ContentType: tts.FormatWAV.ContentType(),
		Duration:    b.EstimateDuration(text, opts.Speed),
		Text:        text,
	}
}

func (b *Builtin) buildArgs(outputFile string, opts tts.GenerateOptions) []string {
	args := []string{
		"--model", b.model,
		"--output_file", outputFile,
	}

	speed := opts.Speed
	if speed <= 0 {
		speed = b.speed
	}
	if speed <= 0 {
		speed = 1.0
	}
	// Speed: 0.5 = half speed (scale 2.0), 2.0 = double speed (scale 0.5)
	args = append(args, "--length_scale", strconv.FormatFloat(1.0/speed, 'f', 2, 64))

	voice := opts.Voice
	if voice == "" {
		voice = b.voice
	}
	if _, err := strconv.Atoi(voice); err == nil {
		args = append(args, "--speaker", voice)
	}
	return args
}

// classify maps a failed Piper run onto the error taxonomy.
func (b *Builtin) classify(ctx context.Context, err error, stderr []byte, requestID string) *tts.TTSError {
	const source = "builtin"

	if ctxErr := ctx.Err(); ctxErr != nil {
		return tts.FromFault(ctxErr, source, requestID)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return tts.FromFault(fmt.Errorf("%w: %v", tts.ErrBackendUnavailable, err), source, requestID)
	}

	msg := strings.TrimSpace(string(stderr))
	te := tts.FromFault(err, source, requestID)
	if strings.Contains(strings.ToLower(msg), "model") && strings.Contains(strings.ToLower(msg), "not found") {
		te = tts.NewTTSError(tts.ErrorCodeConfigurationError, "piper model not found").
			WithCause(err).
			WithSource(source).
			WithRequestID(requestID)
	}
	if msg != "" {
		te.WithDetails("%v: %s", err, msg)
	}
	return te
}

func (b *Builtin) workDir() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tempDir != "" {
		if err := os.MkdirAll(b.tempDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create temp directory: %w", err)
		}
		return b.tempDir, nil
	}
	dir, err := os.MkdirTemp("", "vpet-tts-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	b.tempDir, b.ownsDir = dir, true
	return dir, nil
}

// WaitForPlayback plays res through the host.
func (b *Builtin) WaitForPlayback(ctx context.Context, res *tts.AudioResult) error {
	dir, err := b.workDir()
	if err != nil {
		return err
	}
	return waitForPlayback(ctx, b.host, dir, res)
}

// EstimateDuration implements tts.Adapter.
func (b *Builtin) EstimateDuration(text string, speed float64) time.Duration {
	return b.durations.Estimate(text, speed)
}

// HealthStatus runs `piper --version`.
func (b *Builtin) HealthStatus(ctx context.Context) tts.HealthStatus {
	start := time.Now()
	status := tts.HealthStatus{LastCheck: start}

	bin, err := b.runner.LookPath(b.binary)
	if err != nil {
		status.Message = fmt.Sprintf("piper not found in PATH: %v", err)
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, _, err := b.runner.Run(ctx, bin, []string{"--version"}, nil)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("cannot execute piper: %v", err)
		return status
	}

	status.Healthy = true
	status.Message = "piper " + strings.TrimSpace(string(out))
	return status
}

// Close removes the temp directory when the adapter created it.
func (b *Builtin) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ownsDir {
		return nil
	}
	err := os.RemoveAll(b.tempDir)
	b.tempDir, b.ownsDir = "", false
	return err
}
