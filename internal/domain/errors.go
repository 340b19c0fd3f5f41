package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures so the orchestrator can decide whether a
// page attempt is worth retrying.
type ErrorCode string

const (
	ErrCodeRender     ErrorCode = "render"
	ErrCodeTransport  ErrorCode = "transport"
	ErrCodeProtocol   ErrorCode = "protocol"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeConfig     ErrorCode = "config"
	ErrCodeValidation ErrorCode = "validation"
	ErrCodeCheckpoint ErrorCode = "checkpoint"
)

// OCRError is the error type used across the pipeline.
type OCRError struct {
	Code    ErrorCode
	Message string
	Page    int // 1-based page index, 0 when not page-scoped
	Cause   error
}

func (e *OCRError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Page > 0 {
		msg = fmt.Sprintf("%s: page %d: %s", e.Code, e.Page, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *OCRError) Unwrap() error {
	return e.Cause
}

// WithPage returns a copy of the error annotated with a page index.
func (e *OCRError) WithPage(page int) *OCRError {
	cp := *e
	cp.Page = page
	return &cp
}

func newError(code ErrorCode, msg string, cause error) *OCRError {
	return &OCRError{Code: code, Message: msg, Cause: cause}
}

// RenderError reports a page or image that could not be rasterized or
// encoded (bad input, page-scoped).
func RenderError(msg string, cause error) *OCRError {
	return newError(ErrCodeRender, msg, cause)
}

// TransportError reports a connection-level failure reaching the endpoint.
func TransportError(msg string, cause error) *OCRError {
	return newError(ErrCodeTransport, msg, cause)
}

// ProtocolError reports a non-2xx or otherwise malformed endpoint response.
func ProtocolError(msg string, cause error) *OCRError {
	return newError(ErrCodeProtocol, msg, cause)
}

// TimeoutError reports that no terminal chunk arrived within the page
// timeout budget.
func TimeoutError(msg string, cause error) *OCRError {
	return newError(ErrCodeTimeout, msg, cause)
}

// ConfigError reports invalid or missing configuration.
func ConfigError(msg string, cause error) *OCRError {
	return newError(ErrCodeConfig, msg, cause)
}

// ValidationError reports invalid input (bad path, unsupported format).
func ValidationError(msg string, cause error) *OCRError {
	return newError(ErrCodeValidation, msg, cause)
}

// CheckpointError reports a RunState read or write failure.
func CheckpointError(msg string, cause error) *OCRError {
	return newError(ErrCodeCheckpoint, msg, cause)
}

// CodeOf returns the error code of err, or empty when err is not an OCRError.
func CodeOf(err error) ErrorCode {
	var oe *OCRError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsRetryable reports whether a failed page attempt may be retried.
// Render failures are retryable too: rasterization shares the page retry
// budget even though it rarely succeeds on a second try.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRender, ErrCodeTransport, ErrCodeProtocol, ErrCodeTimeout:
		return true
	}
	return false
}
