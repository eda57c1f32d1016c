package synth

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	CodeInvalid     = "invalid"
	CodeHTTP        = "http"
	CodeNetwork     = "network"
	CodeTimeout     = "timeout"
	CodeDecode      = "decode"
	CodeCredentials = "credentials"
)

type SynthesisError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Cause      error
	Retryable  bool
}

func (e *SynthesisError) Error() string {
	s := fmt.Sprintf("%s synthesis error [%s]: %s", e.Provider, e.Code, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

func transportError(provider string, err error) *SynthesisError {
	code := CodeNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		code = CodeTimeout
	}
	return &SynthesisError{Provider: provider, Code: code, Message: "request failed", Cause: err, Retryable: true}
}
