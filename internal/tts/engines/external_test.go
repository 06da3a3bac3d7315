package engines

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
	openai "github.com/sashabaranov/go-openai"
)

// fakeSpeechClient stands in for the vendor API.
type fakeSpeechClient struct {
	mu       sync.Mutex
	audio    string
	err      error
	requests []openai.CreateSpeechRequest
}

func (f *fakeSpeechClient) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader(f.audio))}, nil
}

func (f *fakeSpeechClient) ListModels(context.Context) (openai.ModelsList, error) {
	if f.err != nil {
		return openai.ModelsList{}, f.err
	}
	return openai.ModelsList{Models: []openai.Model{{ID: "tts-1"}, {ID: "tts-1-hd"}}}, nil
}

func TestExternal_GenerateAudio(t *testing.T) {
	client := &fakeSpeechClient{audio: "ID3mp3data"}
	e := NewExternal(tts.ExternalConfig{Model: "tts-1", Voice: "nova"}, ExternalOptions{Client: client})

	if !e.IsAvailable() {
		t.Fatal("expected available with a client")
	}

	res := e.GenerateAudio(context.Background(), "Good morning", tts.GenerateOptions{
		RequestID: "r1",
		Speed:     1.5,
		Format:    tts.FormatMP3,
	})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if string(res.Audio) != "ID3mp3data" {
		t.Errorf("audio = %q", res.Audio)
	}
	if res.ContentType != "audio/mpeg" {
		t.Errorf("content type = %q", res.ContentType)
	}

	req := client.requests[0]
	if req.Model != "tts-1" || req.Voice != "nova" || req.Input != "Good morning" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.ResponseFormat != openai.SpeechResponseFormatMp3 || req.Speed != 1.5 {
		t.Errorf("unexpected format/speed %+v", req)
	}
}

func TestExternal_Defaults(t *testing.T) {
	client := &fakeSpeechClient{audio: "RIFF"}
	e := NewExternal(tts.ExternalConfig{}, ExternalOptions{Client: client})

	res := e.GenerateAudio(context.Background(), "hi", tts.GenerateOptions{})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	req := client.requests[0]
	if req.Model != openai.TTSModel1 || req.Voice != openai.VoiceAlloy {
		t.Errorf("defaults not applied: %+v", req)
	}
	if req.ResponseFormat != openai.SpeechResponseFormatWav || req.Speed != 1.0 {
		t.Errorf("format/speed defaults not applied: %+v", req)
	}
}

func TestExternal_NoAPIKey(t *testing.T) {
	e := NewExternal(tts.ExternalConfig{}, ExternalOptions{})
	if e.IsAvailable() {
		t.Fatal("expected unavailable without an API key")
	}
	res := e.GenerateAudio(context.Background(), "hello", tts.GenerateOptions{})
	if res.Success || res.Err.Code != tts.ErrorCodeAdapterUnavailable {
		t.Fatalf("expected adapter unavailable, got %+v", res.Err)
	}
	if h := e.HealthStatus(context.Background()); h.Healthy {
		t.Error("expected unhealthy without an API key")
	}
}

func TestExternal_VendorErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  tts.ErrorCode
		wantRetry bool
	}{
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}, tts.ErrorCodeAuthenticationFailed, false},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, tts.ErrorCodeQuotaExceeded, true},
		{"server error", &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, tts.ErrorCodeServiceUnavailable, true},
		{"unknown model", &openai.APIError{HTTPStatusCode: http.StatusNotFound}, tts.ErrorCodeConfigurationError, false},
		{"plain failure", errors.New("connection reset"), tts.ErrorCodeProcessingError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExternal(tts.ExternalConfig{}, ExternalOptions{Client: &fakeSpeechClient{err: tt.err}})
			res := e.GenerateAudio(context.Background(), "hello", tts.GenerateOptions{RequestID: "r9"})
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Err.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", res.Err.Code, tt.wantCode)
			}
			if res.Err.Retryable != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", res.Err.Retryable, tt.wantRetry)
			}
			if res.Err.RequestID != "r9" || res.Err.Source != "external" {
				t.Errorf("request id/source = %q/%q", res.Err.RequestID, res.Err.Source)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[int]tts.ErrorCode{
		401: tts.ErrorCodeAuthenticationFailed,
		403: tts.ErrorCodeAuthenticationFailed,
		429: tts.ErrorCodeQuotaExceeded,
		408: tts.ErrorCodeTimeout,
		504: tts.ErrorCodeTimeout,
		415: tts.ErrorCodeUnsupportedFormat,
		422: tts.ErrorCodeUnsupportedFormat,
		404: tts.ErrorCodeConfigurationError,
		500: tts.ErrorCodeServiceUnavailable,
		503: tts.ErrorCodeServiceUnavailable,
		400: tts.ErrorCodeValidationFailed,
		302: tts.ErrorCodeProcessingError,
	}
	for status, want := range tests {
		if got := StatusCode(status); got != want {
			t.Errorf("StatusCode(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestExternal_RateLimitDeadline(t *testing.T) {
	client := &fakeSpeechClient{audio: "RIFF"}
	e := NewExternal(tts.ExternalConfig{RequestsPerMinute: 1}, ExternalOptions{Client: client})

	if res := e.GenerateAudio(context.Background(), "one", tts.GenerateOptions{}); !res.Success {
		t.Fatalf("first call failed: %v", res.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := e.GenerateAudio(ctx, "two", tts.GenerateOptions{})
	if time.Since(start) > time.Second {
		t.Error("rate limiter wait overran the deadline")
	}
	if res.Success || res.Err.Code != tts.ErrorCodeTimeout {
		t.Fatalf("expected timeout, got %+v", res.Err)
	}
	if len(client.requests) != 1 {
		t.Errorf("vendor called %d times, want 1", len(client.requests))
	}
}

func TestExternal_PlaybackWritesTempFile(t *testing.T) {
	host := &recordingHost{}
	e := NewExternal(tts.ExternalConfig{}, ExternalOptions{Client: &fakeSpeechClient{audio: "ID3"}, Host: host})

	res := e.GenerateAudio(context.Background(), "hello", tts.GenerateOptions{Format: tts.FormatMP3})
	if !res.Success {
		t.Fatalf("GenerateAudio failed: %v", res.Err)
	}
	if err := e.WaitForPlayback(context.Background(), res); err != nil {
		t.Fatalf("WaitForPlayback: %v", err)
	}
	if len(host.played) != 1 || !strings.HasSuffix(host.played[0], ".mp3") {
		t.Fatalf("played = %v", host.played)
	}
	if string(host.data[0]) != "ID3" {
		t.Errorf("played data = %q", host.data[0])
	}
}

func TestExternal_HealthStatus(t *testing.T) {
	e := NewExternal(tts.ExternalConfig{}, ExternalOptions{Client: &fakeSpeechClient{}})
	h := e.HealthStatus(context.Background())
	if !h.Healthy || h.Message != "2 models available" {
		t.Errorf("health = %+v", h)
	}

	e = NewExternal(tts.ExternalConfig{}, ExternalOptions{Client: &fakeSpeechClient{err: &openai.APIError{HTTPStatusCode: 401}}})
	if h := e.HealthStatus(context.Background()); h.Healthy {
		t.Error("expected unhealthy on auth failure")
	}
}
