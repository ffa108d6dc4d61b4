package service

import (
	"errors"
	"fmt"
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ service string }

func (e tooBusyError) Error() string { return "too busy: " + e.service }

// ErrTooBusy returns the backpressure error for the named service.
func ErrTooBusy(service string) error { return tooBusyError{service: service} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

type serviceNotFoundError struct{ name string }

func (e serviceNotFoundError) Error() string { return "service not found: " + e.name }

// ErrServiceNotFound returns an error for a service name that is not configured.
func ErrServiceNotFound(name string) error { return serviceNotFoundError{name: name} }

// IsServiceNotFound reports whether the error indicates an unknown service.
func IsServiceNotFound(err error) bool {
	var nf serviceNotFoundError
	return errors.As(err, &nf)
}

// serviceUnavailableError is returned for services that are not ready. The
// construction error, if any, stays reachable through Unwrap so callers can
// still tell a missing runtime apart.
type serviceUnavailableError struct {
	name  string
	state State
	cause error
}

func (e serviceUnavailableError) Error() string {
	msg := fmt.Sprintf("service %s is %s", e.name, e.state)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e serviceUnavailableError) Unwrap() error { return e.cause }

// IsServiceUnavailable reports whether err indicates a service that is
// loading, failed or closed.
func IsServiceUnavailable(err error) bool {
	var su serviceUnavailableError
	return errors.As(err, &su)
}
