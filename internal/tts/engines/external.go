package engines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// SpeechClient is the subset of the vendor client the external adapter uses.
// *openai.Client satisfies it.
type SpeechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// NewOpenAISpeechClient builds a vendor client for cfg, or nil when no API
// key is configured.
func NewOpenAISpeechClient(cfg tts.ExternalConfig) SpeechClient {
	if cfg.APIKey == "" {
		return nil
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(conf)
}

// External renders speech through an OpenAI-compatible speech endpoint.
type External struct {
	client SpeechClient
	model  string
	voice  string

	// Rate limiting to avoid being throttled by the vendor
	rateLimiter *rate.Limiter

	host      tts.Host
	logger    *log.Logger
	durations DurationModel
}

// ExternalOptions holds the collaborators of the external adapter.
type ExternalOptions struct {
	// Client defaults to NewOpenAISpeechClient(cfg).
	Client SpeechClient
	Host   tts.Host
	Logger *log.Logger
}

// NewExternal creates the external adapter.
func NewExternal(cfg tts.ExternalConfig, opts ExternalOptions) *External {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if opts.Client == nil {
		opts.Client = NewOpenAISpeechClient(cfg)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &External{
		client:      opts.Client,
		model:       cfg.Model,
		voice:       cfg.Voice,
		rateLimiter: limiter,
		host:        opts.Host,
		logger:      opts.Logger,
		durations:   ExternalDurationModel,
	}
}

// Backend implements tts.Adapter.
func (e *External) Backend() tts.BackendType { return tts.BackendExternal }

// IsAvailable reports whether a client is configured.
func (e *External) IsAvailable() bool { return e.client != nil }

// GenerateAudio implements tts.Adapter.
func (e *External) GenerateAudio(ctx context.Context, text string, opts tts.GenerateOptions) *tts.AudioResult {
	const source = "external"

	if e.client == nil {
		return tts.Failed(tts.NewTTSError(tts.ErrorCodeAdapterUnavailable, "external backend has no API key").
			WithSource(source).
			WithRequestID(opts.RequestID))
	}
	if strings.TrimSpace(text) == "" {
		return tts.Failed(tts.FromFault(fmt.Errorf("%w: empty text", tts.ErrInvalidArgument), source, opts.RequestID))
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return tts.Failed(tts.FromFault(ctxErr, source, opts.RequestID))
			}
			// The limiter refuses waits that would overrun the deadline.
			return tts.Failed(tts.NewTTSError(tts.ErrorCodeTimeout, "rate limit wait exceeds deadline").
				WithCause(err).
				WithSource(source).
				WithRequestID(opts.RequestID))
		}
	}

	format := opts.Format
	if format == "" {
		format = tts.FormatWAV
	}
	voice := opts.Voice
	if voice == "" {
		voice = e.voice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}

	start := time.Now()
	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(e.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          speed,
	})
	if err != nil {
		return tts.Failed(classifyVendorError(ctx, err, opts.RequestID))
	}
	defer resp.Close() //nolint:errcheck

	audio, err := io.ReadAll(resp)
	if err != nil {
		return tts.Failed(classifyVendorError(ctx, err, opts.RequestID))
	}
	if len(audio) == 0 {
		return tts.Failed(tts.NewTTSError(tts.ErrorCodeProcessingError, "vendor returned no audio").
			WithSource(source).
			WithRequestID(opts.RequestID))
	}

	e.logger.Debug("Vendor synthesis complete",
		"request_id", opts.RequestID,
		"model", e.model,
		"bytes", len(audio),
		"elapsed", time.Since(start))

	return &tts.AudioResult{
		Success:     true,
		Audio:       audio,
		ContentType: format.ContentType(),
		Duration:    e.EstimateDuration(text, speed),
		Text:        text,
	}
}

// classifyVendorError maps vendor and transport failures onto the taxonomy.
func classifyVendorError(ctx context.Context, err error, requestID string) *tts.TTSError {
	const source = "external"

	if ctxErr := ctx.Err(); ctxErr != nil {
		return tts.FromFault(ctxErr, source, requestID).WithDetails("%v", err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return tts.FromFault(err, source, requestID)
	}

	return tts.NewTTSError(StatusCode(status), http.StatusText(status)).
		WithCause(err).
		WithDetails("status %d: %v", status, err).
		WithSource(source).
		WithRequestID(requestID)
}

// StatusCode maps a vendor HTTP status onto an error code.
func StatusCode(status int) tts.ErrorCode {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return tts.ErrorCodeAuthenticationFailed
	case status == http.StatusTooManyRequests:
		return tts.ErrorCodeQuotaExceeded
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return tts.ErrorCodeTimeout
	case status == http.StatusUnsupportedMediaType, status == http.StatusUnprocessableEntity:
		return tts.ErrorCodeUnsupportedFormat
	case status == http.StatusNotFound:
		return tts.ErrorCodeConfigurationError
	case status >= 500:
		return tts.ErrorCodeServiceUnavailable
	case status >= 400:
		return tts.ErrorCodeValidationFailed
	default:
		return tts.ErrorCodeProcessingError
	}
}

// WaitForPlayback implements tts.Adapter.
func (e *External) WaitForPlayback(ctx context.Context, res *tts.AudioResult) error {
	return waitForPlayback(ctx, e.host, "", res)
}

// EstimateDuration implements tts.Adapter.
func (e *External) EstimateDuration(text string, speed float64) time.Duration {
	return e.durations.Estimate(text, speed)
}

// HealthStatus lists the vendor's models.
func (e *External) HealthStatus(ctx context.Context) tts.HealthStatus {
	start := time.Now()
	status := tts.HealthStatus{LastCheck: start}
	if e.client == nil {
		status.Message = "no API key configured"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := e.client.ListModels(ctx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Message = classifyVendorError(ctx, err, "").Error()
		return status
	}
	status.Healthy = true
	status.Message = fmt.Sprintf("%d models available", len(models.Models))
	return status
}
