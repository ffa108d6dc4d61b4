package pipeline

import "errors"

// unavailableError signals that a runtime dependency is not installed,
// not built in, or not reachable.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs a runtime-unavailable error.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err (or anything it wraps) indicates a
// missing runtime dependency.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}
