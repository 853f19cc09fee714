package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// ErrorKind classifies a failure of an external dependency.
type ErrorKind string

const (
	KindAuthFailed        ErrorKind = "auth_failed"
	KindRateLimited       ErrorKind = "rate_limited"
	KindUnavailable       ErrorKind = "unavailable"
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindUnknown           ErrorKind = "unknown"
)

// DependencyError wraps a failure of an embedding, LLM or HTTP provider.
type DependencyError struct {
	Service    string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *DependencyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Service, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, &DependencyError{Kind: KindRateLimited}).
func (e *DependencyError) Is(target error) bool {
	t, ok := target.(*DependencyError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Service == "" || t.Service == e.Service)
}

// UserMessage is safe to show to the tenant who triggered the call.
func (e *DependencyError) UserMessage() string {
	switch e.Kind {
	case KindNotFound:
		if e.StatusCode == 404 {
			return "Page not found (404)"
		}
		return "Website not found. Please check the URL."
	case KindForbidden:
		return "Access forbidden (403). The website may be blocking automated access."
	case KindConnectionRefused:
		return "Connection refused. The website may be blocking automated access."
	case KindAuthFailed:
		return fmt.Sprintf("The %s service rejected our credentials.", e.Service)
	case KindRateLimited:
		return fmt.Sprintf("The %s service is rate limiting requests, try again later.", e.Service)
	case KindUnavailable:
		return fmt.Sprintf("The %s service is currently unavailable.", e.Service)
	}
	return fmt.Sprintf("Failed to reach %s: %v", e.Service, e.Err)
}

func NewDependencyError(service string, kind ErrorKind, status int, err error) *DependencyError {
	return &DependencyError{Service: service, Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the dependency kind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var de *DependencyError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
