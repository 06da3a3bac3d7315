package engines

import (
	"context"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// Placeholder stands in for a backend that is selectable in configuration
// but not implemented. It is never available.
type Placeholder struct {
	Name string
}

// NewPlaceholder creates a placeholder adapter.
func NewPlaceholder(name string) *Placeholder {
	if name == "" {
		name = string(tts.BackendPlaceholder)
	}
	return &Placeholder{Name: name}
}

// Backend implements tts.Adapter.
func (p *Placeholder) Backend() tts.BackendType { return tts.BackendPlaceholder }

// IsAvailable always returns false.
func (p *Placeholder) IsAvailable() bool { return false }

// GenerateAudio always fails with AdapterUnavailable.
func (p *Placeholder) GenerateAudio(_ context.Context, _ string, opts tts.GenerateOptions) *tts.AudioResult {
	return tts.Failed(tts.NewTTSError(tts.ErrorCodeAdapterUnavailable, p.Name+" backend is not implemented").
		WithSource(p.Name).
		WithRequestID(opts.RequestID))
}

// WaitForPlayback waits out the estimated duration.
func (p *Placeholder) WaitForPlayback(ctx context.Context, res *tts.AudioResult) error {
	return waitForPlayback(ctx, nil, "", res)
}

// EstimateDuration implements tts.Adapter.
func (p *Placeholder) EstimateDuration(text string, speed float64) time.Duration {
	return PlaceholderDurationModel.Estimate(text, speed)
}

// HealthStatus implements tts.Adapter.
func (p *Placeholder) HealthStatus(context.Context) tts.HealthStatus {
	return tts.HealthStatus{
		Message:   p.Name + " backend is not implemented",
		LastCheck: time.Now(),
	}
}
