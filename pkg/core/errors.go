package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shared by the token broker and the talk client.
// Kind is assigned where the failure happens so callers never have to parse
// message text to decide how to react.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Details carries the raw upstream body or transport message, when known.
	Details string `json:"details,omitempty"`
	// Status is the HTTP status observed from the upstream or broker, 0 if none.
	Status int   `json:"status,omitempty"`
	Err    error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Status != 0 && e.Details != "":
		return fmt.Sprintf("%s: %s (status %d): %s", e.Kind, e.Message, e.Status, e.Details)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	// ErrConfiguration means required credentials or settings are missing.
	ErrConfiguration ErrorKind = "configuration_error"
	// ErrUpstream means a remote API answered with a non-success status.
	ErrUpstream ErrorKind = "upstream_error"
	// ErrTransport means no response was received at all.
	ErrTransport ErrorKind = "transport_error"
	// ErrMedia covers microphone, audio context, decode and playback failures.
	ErrMedia ErrorKind = "media_error"
	// ErrSession covers voice session init and stop failures.
	ErrSession ErrorKind = "session_error"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message, details string) *Error {
	return &Error{
		Kind:    ErrConfiguration,
		Message: message,
		Details: details,
	}
}

// NewUpstreamError creates an upstream error carrying the remote status and body.
func NewUpstreamError(message string, status int, body string) *Error {
	return &Error{
		Kind:    ErrUpstream,
		Message: message,
		Status:  status,
		Details: body,
	}
}

// NewTransportError wraps a failure to reach a remote endpoint.
func NewTransportError(message string, underlying error) *Error {
	e := &Error{
		Kind:    ErrTransport,
		Message: message,
		Err:     underlying,
	}
	if underlying != nil {
		e.Details = underlying.Error()
	}
	return e
}

// NewMediaError wraps a microphone or audio failure.
func NewMediaError(message string, underlying error) *Error {
	return &Error{
		Kind:    ErrMedia,
		Message: message,
		Err:     underlying,
	}
}

// NewSessionError wraps a voice session failure.
func NewSessionError(message string, underlying error) *Error {
	return &Error{
		Kind:    ErrSession,
		Message: message,
		Err:     underlying,
	}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
