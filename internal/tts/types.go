package tts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackendType selects the adapter variant used to render speech.
type BackendType string

const (
	// BackendBuiltin renders speech with a local Piper process.
	BackendBuiltin BackendType = "builtin"

	// BackendExternal renders speech through a vendor speech API.
	BackendExternal BackendType = "external"

	// BackendPlaceholder is an unimplemented backend that is never available.
	BackendPlaceholder BackendType = "placeholder"
)

// ParseBackendType normalizes a configured backend name, accepting the
// historical aliases used in older config files.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "builtin", "built-in", "piper", "local":
		return BackendBuiltin, nil
	case "external", "vendor", "openai":
		return BackendExternal, nil
	case "placeholder", "none":
		return BackendPlaceholder, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
}

// Priority hints how urgently a request should be served.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	// PriorityImmediate pre-empts in-flight work of lower priority.
	PriorityImmediate
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// AudioFormat is the container requested from a backend.
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatMP3 AudioFormat = "mp3"
	FormatPCM AudioFormat = "pcm"
)

// ContentType returns the MIME type for the format.
func (f AudioFormat) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatPCM:
		return "audio/L16"
	default:
		return "audio/wav"
	}
}

// Settings bounds
const (
	MinSpeed  = 0.5
	MaxSpeed  = 2.0
	MinPitch  = -20.0
	MaxPitch  = 20.0
	MinVolume = 0.0
	MaxVolume = 1.0

	// MaxTextSize is the maximum text length in characters.
	MaxTextSize = 5000

	// DefaultTimeoutMs is the per-request budget when nothing else is configured.
	DefaultTimeoutMs = 30000
)

// Settings controls how a single request is rendered.
type Settings struct {
	Voice    string
	Speed    float64
	Pitch    float64
	Volume   float64
	Format   AudioFormat
	Language string
	// TimeoutMs overrides the configured timeout when non-zero.
	TimeoutMs int
}

// DefaultSettings returns the settings applied when a caller sets nothing.
func DefaultSettings() Settings {
	return Settings{
		Speed:     1.0,
		Volume:    1.0,
		Format:    FormatWAV,
		Language:  "en-US",
		TimeoutMs: DefaultTimeoutMs,
	}
}

// Request is a single TTS job. Only RetryCount changes after submission.
type Request struct {
	ID         string
	Text       string
	Settings   Settings
	Priority   Priority
	RetryCount int
	CreatedAt  time.Time
}

// NewRequest creates a request with a fresh id and default settings.
func NewRequest(text string, priority Priority) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Text:      text,
		Settings:  DefaultSettings(),
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// Response is the terminal outcome of a request.
type Response struct {
	Success     bool
	Audio       []byte
	FilePath    string
	ContentType string

	ErrorCode    ErrorCode
	ErrorMessage string
	ErrorDetails string

	ProcessingTime time.Duration
	AudioDuration  time.Duration
	Adapter        BackendType
	RequestID      string
	Attempts       int
	CacheHit       bool
	Timestamp      time.Time
}

// SuccessResponse builds a successful response from an adapter result.
func SuccessResponse(req *Request, backend BackendType, res *AudioResult) *Response {
	return &Response{
		Success:       true,
		Audio:         res.Audio,
		FilePath:      res.FilePath,
		ContentType:   res.ContentType,
		AudioDuration: res.Duration,
		Adapter:       backend,
		RequestID:     req.ID,
		Timestamp:     time.Now(),
	}
}

// FailureResponse builds a failed response carrying err. Audio is never set.
func FailureResponse(req *Request, backend BackendType, err *TTSError) *Response {
	details := err.Details
	if details == "" && err.Cause != nil {
		details = err.Cause.Error()
	}
	return &Response{
		ErrorCode:    err.Code,
		ErrorMessage: UserMessage(err.Code),
		ErrorDetails: details,
		Adapter:      backend,
		RequestID:    req.ID,
		Timestamp:    time.Now(),
	}
}
