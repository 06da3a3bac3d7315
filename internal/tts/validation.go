package tts

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ValidationResult contains the result of request validation
type ValidationResult struct {
	// Valid indicates the request may be dispatched
	Valid bool

	// Errors lists every problem found, in field order
	Errors []string
}

// Err converts a failed result into an InvalidRequest error.
func (r ValidationResult) Err(requestID string) *TTSError {
	if r.Valid {
		return nil
	}
	return NewTTSError(ErrorCodeInvalidRequest, "request validation failed").
		WithDetails("%s", strings.Join(r.Errors, "; ")).
		WithSource("validator").
		WithRequestID(requestID)
}

// ValidateRequest checks text and settings bounds. It has no side effects.
func ValidateRequest(req *Request) ValidationResult {
	if req == nil {
		return ValidationResult{Errors: []string{"request is nil"}}
	}

	var errs []string
	if strings.TrimSpace(req.Text) == "" {
		errs = append(errs, "text cannot be empty")
	}
	if n := utf8.RuneCountInString(req.Text); n > MaxTextSize {
		errs = append(errs, fmt.Sprintf("text too long: %d characters (max %d)", n, MaxTextSize))
	}

	s := req.Settings
	if !inRange(s.Speed, MinSpeed, MaxSpeed) {
		errs = append(errs, fmt.Sprintf("speed must be between %.1f and %.1f, got %.2f", MinSpeed, MaxSpeed, s.Speed))
	}
	if !inRange(s.Pitch, MinPitch, MaxPitch) {
		errs = append(errs, fmt.Sprintf("pitch must be between %.0f and %.0f, got %.2f", MinPitch, MaxPitch, s.Pitch))
	}
	if !inRange(s.Volume, MinVolume, MaxVolume) {
		errs = append(errs, fmt.Sprintf("volume must be between %.1f and %.1f, got %.2f", MinVolume, MaxVolume, s.Volume))
	}
	switch s.Format {
	case FormatWAV, FormatMP3, FormatPCM, "":
	default:
		errs = append(errs, fmt.Sprintf("unsupported audio format %q", s.Format))
	}
	if s.TimeoutMs < 0 {
		errs = append(errs, fmt.Sprintf("timeout must not be negative, got %dms", s.TimeoutMs))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// inRange reports whether v lies in [lo, hi]. NaN and infinities never do.
func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}
