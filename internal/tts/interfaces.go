package tts

import (
	"context"
	"time"
)

// Adapter defines the contract every speech backend implements.
// Implementations include a local Piper renderer, a vendor speech API and
// placeholders for backends that are not wired yet.
type Adapter interface {
	// Backend identifies the variant.
	Backend() BackendType

	// IsAvailable is a cheap readiness check. Unimplemented backends
	// return false instead of failing on first use.
	IsAvailable() bool

	// GenerateAudio renders text. It must return promptly once ctx is done
	// and must never panic or return a raw fault: failures are reported in
	// AudioResult.Err.
	GenerateAudio(ctx context.Context, text string, opts GenerateOptions) *AudioResult

	// WaitForPlayback blocks until playback of res finishes, or until the
	// estimated duration elapses when playback cannot be observed.
	WaitForPlayback(ctx context.Context, res *AudioResult) error

	// EstimateDuration predicts the spoken length of text at speed.
	EstimateDuration(text string, speed float64) time.Duration

	// HealthStatus checks the backend.
	HealthStatus(ctx context.Context) HealthStatus
}

// GenerateOptions carries per-call settings to an adapter.
type GenerateOptions struct {
	RequestID string
	Voice     string
	Speed     float64
	Pitch     float64
	Volume    float64
	Format    AudioFormat
	Language  string
}

// OptionsFromSettings maps request settings onto adapter options.
func OptionsFromSettings(id string, s Settings) GenerateOptions {
	return GenerateOptions{
		RequestID: id,
		Voice:     s.Voice,
		Speed:     s.Speed,
		Pitch:     s.Pitch,
		Volume:    s.Volume,
		Format:    s.Format,
		Language:  s.Language,
	}
}

// AudioResult is the outcome of one adapter call. Exactly one of a payload
// (Audio or FilePath) or Err is meaningful, as selected by Success.
type AudioResult struct {
	Success     bool
	Audio       []byte
	FilePath    string
	ContentType string
	Duration    time.Duration
	// Text is what was rendered, shown by the host during playback.
	Text string
	Err  *TTSError
}

// Failed builds a failed AudioResult.
func Failed(err *TTSError) *AudioResult {
	return &AudioResult{Err: err}
}

// HealthStatus describes the last health check of a backend.
type HealthStatus struct {
	Healthy      bool
	Message      string
	LastCheck    time.Time
	ResponseTime time.Duration
}

// Host is the display surface of the pet: it shows speech bubbles and can
// play a rendered file to completion.
type Host interface {
	ShowText(ctx context.Context, text string, d time.Duration)
	PlayFile(ctx context.Context, path string) error
}

// AudioCache stores rendered audio keyed by request content.
type AudioCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, audio []byte) error
}
