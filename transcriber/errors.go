package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrEmptyAudio      = errors.New("audio data is empty")
)

const (
	CodeEmpty         = "empty"
	CodeLowConfidence = "low_confidence"
	CodeHTTP          = "http"
	CodeNetwork       = "network"
	CodeTimeout       = "timeout"
	CodeDecode        = "decode"
	CodeCredentials   = "credentials"
)

// PayloadTooLargeError is returned before any request is made.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("audio payload is %d bytes, limit is %d", e.Size, e.Limit)
}

func (e *PayloadTooLargeError) Is(target error) bool { return target == ErrPayloadTooLarge }

type TranscriptionError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Cause      error
	Retryable  bool
}

func (e *TranscriptionError) Error() string {
	p := e.Provider
	if p == "" {
		p = "transcription"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s transcription error [%s]: %s", p, e.Code, e.Message)
	}
	return fmt.Sprintf("%s transcription error: %s", p, e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// statusError classifies a non-2xx provider response.
func statusError(provider string, status int, body []byte) *TranscriptionError {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return &TranscriptionError{
		Provider:   provider,
		Code:       CodeHTTP,
		Message:    fmt.Sprintf("API error %d: %s", status, msg),
		StatusCode: status,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
	}
}

func transportError(provider string, err error) *TranscriptionError {
	code := CodeNetwork
	if isTimeout(err) {
		code = CodeTimeout
	}
	return &TranscriptionError{Provider: provider, Code: code, Message: err.Error(), Cause: err, Retryable: true}
}

func decodeError(provider string, err error) *TranscriptionError {
	return &TranscriptionError{Provider: provider, Code: CodeDecode, Message: "response parse error", Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
