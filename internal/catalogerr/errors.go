// Package catalogerr defines the error-kind vocabulary shared across the
// catalog, provider, hls, and scheduler packages.
package catalogerr

import "errors"

// Kind is one of the error categories the core distinguishes.
type Kind string

const (
	NotFound            Kind = "not_found"
	Duplicate           Kind = "duplicate"
	ProviderUnavailable Kind = "provider_unavailable"
	PlaylistExpired     Kind = "playlist_expired"
	PlaylistUnavailable Kind = "playlist_unavailable"
	FetchFailed         Kind = "fetch_failed"
	Cancelled           Kind = "cancelled"
	StorageFailure      Kind = "storage_failure"
	ConfigError         Kind = "config_error"
)

// Error wraps an underlying cause with a Kind so callers can branch on the
// category without parsing message strings.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to "" when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
