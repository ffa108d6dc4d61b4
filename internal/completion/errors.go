package completion

import (
	"errors"
	"fmt"
	"strings"

	"completiond/internal/pipeline"
)

var (
	// ErrEmptyPrompt is returned (wrapped) when Complete is called without a prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrInvalidSettings is returned (wrapped) when request settings are out
	// of range.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrNoResults is returned (wrapped) when the pipeline produced no records.
	ErrNoResults = errors.New("pipeline returned no results")
	// ErrMissingField is returned (wrapped) when the first record lacks the
	// field required by the configured task.
	ErrMissingField = errors.New("result field missing")
)

// dependencyMissingError signals that the pipeline runtime could not be
// resolved at construction. Not retried.
type dependencyMissingError struct {
	runtime string
	cause   error
}

func (e dependencyMissingError) Error() string {
	msg := fmt.Sprintf("%s runtime is not available", e.runtime)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg + "; please ensure the inference runtime is installed and running"
}

func (e dependencyMissingError) Unwrap() error { return e.cause }

// ErrDependencyMissing constructs a DependencyMissing error for the named runtime.
func ErrDependencyMissing(runtime string, cause error) error {
	return dependencyMissingError{runtime: runtime, cause: cause}
}

// IsDependencyMissing reports whether err indicates a missing runtime dependency.
func IsDependencyMissing(err error) bool {
	var de dependencyMissingError
	return errors.As(err, &de)
}

// UnsupportedTaskError is raised when a completion is requested for a task
// kind outside the supported set.
type UnsupportedTaskError struct {
	Task pipeline.Task
}

func (e *UnsupportedTaskError) Error() string {
	names := make([]string, 0, len(supportedTasks))
	for _, t := range supportedTasks {
		names = append(names, string(t))
	}
	return fmt.Sprintf("unsupported pipeline task %q: only %s are supported", e.Task, strings.Join(names, ", "))
}

// CompletionError wraps every failure raised while building parameters,
// invoking the pipeline or extracting the result. Both the generic and the
// specific reason are kept: Error() carries both and Unwrap exposes the cause.
type CompletionError struct {
	ModelID string
	Task    pipeline.Task
	Cause   error
}

func (e *CompletionError) Error() string {
	if e.Cause == nil {
		return "completion failed"
	}
	return "completion failed: " + e.Cause.Error()
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// IsCompletionFailed reports whether err is (or wraps) a CompletionError.
func IsCompletionFailed(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}

// IsUnsupportedTask reports whether err is (or wraps) an UnsupportedTaskError.
func IsUnsupportedTask(err error) bool {
	var ue *UnsupportedTaskError
	return errors.As(err, &ue)
}
