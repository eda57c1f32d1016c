package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionExpired means the service no longer knows the session. The
	// client has to go back to setup.
	ErrSessionExpired    = errors.New("session expired")
	ErrFinishEarlyLocked = errors.New("not enough exchanges to finish early")
	ErrNoSession         = errors.New("no interview session")
	ErrSessionActive     = errors.New("interview session already active")
	ErrSessionClosed     = errors.New("interview session is no longer active")
)

type FieldProblem struct {
	Field   string
	Message string
}

// ValidationError reports input the user has to correct. Nothing has been
// sent when it is returned.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: msg})
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, p := range e.Problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

// NetworkError is a transport failure talking to the session service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("session service %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a non-2xx reply other than session expiry.
type ServiceError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("session service %s: %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("session service %s: status %d", e.Op, e.StatusCode)
}
