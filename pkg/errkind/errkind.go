// Package errkind classifies errors crossing adapter and service boundaries
// so that callers can map them to HTTP statuses or retry decisions without
// inspecting error strings.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	// InvalidInput marks malformed or unauthenticated requests. Never retried.
	InvalidInput
	// NotFound marks unknown user or product ids. Treated as empty results
	// by recommendation sources, never fatal.
	NotFound
	// BackendUnavailable marks connection failures to graph, vector store or
	// broker. Retryable.
	BackendUnavailable
	// BackendFailure marks a backend that answered with an error. Retryable.
	BackendFailure
	// Exhausted marks a retry budget that has been spent; routes to the DLQ.
	Exhausted
	// Internal marks invariant violations. Never retried.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case BackendUnavailable:
		return "backend_unavailable"
	case BackendFailure:
		return "backend_failure"
	case Exhausted:
		return "exhausted"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap attaches a kind to err. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Errorf builds a new error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Of reports the kind nearest to the surface of err's chain, or Unknown.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ke, ok := err.(*kindError); ok && ke.kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Retryable reports whether a projector should enter the retry flow for err.
func Retryable(err error) bool {
	switch Of(err) {
	case BackendUnavailable, BackendFailure:
		return true
	case InvalidInput, NotFound, Exhausted, Internal:
		return false
	default:
		// Unclassified store errors are assumed transient.
		return true
	}
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(err error) int {
	switch Of(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case BackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
