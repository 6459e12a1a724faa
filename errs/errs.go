// Package errs holds the sentinel error kinds shared across the tracker
// coordination core, so every package can classify a failure with errors.Is
// instead of string matching.
package errs

import "errors"

var (
	// ErrInvalidArgument is returned for malformed caller input: a non-IPv4
	// address where one is required, a malformed scrape URL, an unknown
	// scheme on an extra tracker, a listen backlog out of range, or a
	// backlog change attempted while the listener is open.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported is returned when a caller asks for a capability that
	// was not compiled in: encryption options, or scrape on a tracker
	// variant that doesn't implement it.
	ErrUnsupported = errors.New("unsupported")

	// ErrResolveFailed wraps a nonzero DNS error code. It is a recovered,
	// cached result, never a panic.
	ErrResolveFailed = errors.New("resolve failed")
)
