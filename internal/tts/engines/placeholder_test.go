package engines

import (
	"context"
	"testing"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

func TestPlaceholder(t *testing.T) {
	p := NewPlaceholder("")
	if p.Name != string(tts.BackendPlaceholder) {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Backend() != tts.BackendPlaceholder {
		t.Errorf("Backend() = %v", p.Backend())
	}
	if p.IsAvailable() {
		t.Error("placeholder should never be available")
	}

	res := p.GenerateAudio(context.Background(), "hello", tts.GenerateOptions{RequestID: "r1"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Err.Code != tts.ErrorCodeAdapterUnavailable {
		t.Errorf("code = %s, want %s", res.Err.Code, tts.ErrorCodeAdapterUnavailable)
	}
	if res.Err.RequestID != "r1" {
		t.Errorf("request id = %q", res.Err.RequestID)
	}

	if h := p.HealthStatus(context.Background()); h.Healthy {
		t.Error("placeholder should report unhealthy")
	}
	if d := p.EstimateDuration("hi", 1.0); d < PlaceholderDurationModel.Floor {
		t.Errorf("estimate below floor: %v", d)
	}
}
