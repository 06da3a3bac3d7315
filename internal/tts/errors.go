package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Common TTS errors
var (
	// ErrInvalidBackend indicates an unknown backend type was configured
	ErrInvalidBackend = errors.New("invalid TTS backend specified")

	// ErrInvalidArgument marks faults caused by bad input to a backend
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted marks faults caused by running out of memory, disk or handles
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrBackendUnavailable indicates the selected backend cannot serve requests
	ErrBackendUnavailable = errors.New("TTS backend unavailable")
)

// ErrorCode identifies specific error types
type ErrorCode string

const (
	ErrorCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrorCodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout              ErrorCode = "TIMEOUT"
	ErrorCodeConfigurationError   ErrorCode = "CONFIGURATION_ERROR"
	ErrorCodeProcessingError      ErrorCode = "PROCESSING_ERROR"
	ErrorCodeAdapterUnavailable   ErrorCode = "ADAPTER_UNAVAILABLE"
	ErrorCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrorCodeNetworkError         ErrorCode = "NETWORK_ERROR"
	ErrorCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrorCodeQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
	ErrorCodeUnsupportedFormat    ErrorCode = "UNSUPPORTED_FORMAT"
)

// IsTransient reports whether the code belongs to the fixed set of
// failures that are worth another attempt.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case ErrorCodeTimeout,
		ErrorCodeNetworkError,
		ErrorCodeServiceUnavailable,
		ErrorCodeProcessingError,
		ErrorCodeAdapterUnavailable:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether the code can never succeed on retry.
func (c ErrorCode) IsPermanent() bool {
	switch c {
	case ErrorCodeInvalidRequest,
		ErrorCodeValidationFailed,
		ErrorCodeConfigurationError,
		ErrorCodeAuthenticationFailed,
		ErrorCodeUnsupportedFormat:
		return true
	default:
		return false
	}
}

// UserMessage returns the caller-facing message for a code.
func UserMessage(c ErrorCode) string {
	switch c {
	case ErrorCodeInvalidRequest:
		return "the request is invalid"
	case ErrorCodeServiceUnavailable:
		return "service temporarily unavailable, retry later"
	case ErrorCodeTimeout:
		return "speech generation timed out"
	case ErrorCodeConfigurationError:
		return "text-to-speech is not configured correctly"
	case ErrorCodeProcessingError:
		return "speech generation failed"
	case ErrorCodeAdapterUnavailable:
		return "the selected voice backend is not available"
	case ErrorCodeValidationFailed:
		return "the backend rejected the request"
	case ErrorCodeNetworkError:
		return "network error while contacting the voice service"
	case ErrorCodeAuthenticationFailed:
		return "the voice service rejected the credentials"
	case ErrorCodeQuotaExceeded:
		return "voice service quota exceeded, retry later"
	case ErrorCodeUnsupportedFormat:
		return "the requested audio format is not supported"
	default:
		return "unknown text-to-speech error"
	}
}

// ErrorSeverity represents the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TTSError represents a TTS-specific error with additional context
type TTSError struct {
	Code      ErrorCode
	Message   string
	Details   string
	Severity  ErrorSeverity
	Retryable bool
	Source    string
	RequestID string
	Timestamp time.Time
	Cause     error
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// Is matches another *TTSError by code.
func (e *TTSError) Is(target error) bool {
	t, ok := target.(*TTSError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewTTSError creates a TTS error carrying the code's default severity
// and retryability.
func NewTTSError(code ErrorCode, message string) *TTSError {
	sev, retryable := defaultClass(code)
	return &TTSError{
		Code:      code,
		Message:   message,
		Severity:  sev,
		Retryable: retryable,
		Timestamp: time.Now(),
	}
}

func defaultClass(code ErrorCode) (ErrorSeverity, bool) {
	switch {
	case code == ErrorCodeQuotaExceeded:
		return SeverityWarning, true
	case code == ErrorCodeInvalidRequest, code == ErrorCodeValidationFailed:
		return SeverityWarning, false
	case code.IsPermanent():
		return SeverityError, false
	case code.IsTransient():
		return SeverityError, true
	default:
		return SeverityError, false
	}
}

// WithSeverity sets the error severity
func (e *TTSError) WithSeverity(s ErrorSeverity) *TTSError {
	e.Severity = s
	return e
}

// WithRetryable overrides the default retryability
func (e *TTSError) WithRetryable(r bool) *TTSError {
	e.Retryable = r
	return e
}

// WithDetails sets the diagnostic detail string
func (e *TTSError) WithDetails(format string, args ...any) *TTSError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithSource records the component that raised the error
func (e *TTSError) WithSource(source string) *TTSError {
	e.Source = source
	return e
}

// WithRequestID associates the error with a request
func (e *TTSError) WithRequestID(id string) *TTSError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying error
func (e *TTSError) WithCause(err error) *TTSError {
	e.Cause = err
	return e
}

// FromFault converts an arbitrary Go error caught at a backend boundary
// into a TTSError. An existing *TTSError is returned as is, with source and
// request id filled in when missing.
func FromFault(err error, source, requestID string) *TTSError {
	if err == nil {
		return nil
	}

	var te *TTSError
	if errors.As(err, &te) {
		if te.Source == "" {
			te.Source = source
		}
		if te.RequestID == "" {
			te.RequestID = requestID
		}
		return te
	}

	var out *TTSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		out = NewTTSError(ErrorCodeTimeout, "operation timed out")
	case errors.Is(err, context.Canceled):
		out = NewTTSError(ErrorCodeProcessingError, "operation canceled").
			WithSeverity(SeverityWarning).
			WithRetryable(false)
	case errors.Is(err, ErrInvalidArgument):
		out = NewTTSError(ErrorCodeValidationFailed, "invalid argument").
			WithSeverity(SeverityWarning).
			WithRetryable(false)
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, syscall.ENOMEM), errors.Is(err, syscall.ENOSPC):
		out = NewTTSError(ErrorCodeProcessingError, "resource exhausted").
			WithSeverity(SeverityCritical).
			WithRetryable(false)
	case errors.Is(err, ErrBackendUnavailable):
		out = NewTTSError(ErrorCodeAdapterUnavailable, "backend unavailable")
	case errors.As(err, &netErr):
		out = NewTTSError(ErrorCodeNetworkError, "network failure")
	default:
		out = NewTTSError(ErrorCodeProcessingError, "backend failure")
	}

	return out.
		WithCause(err).
		WithDetails("%v", err).
		WithSource(source).
		WithRequestID(requestID)
}
