package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"completiond/internal/completion"
	"completiond/internal/service"
	"completiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known error kinds to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case service.IsServiceNotFound(err):
		return http.StatusNotFound
	case service.IsTooBusy(err):
		return http.StatusTooManyRequests
	case completion.IsDependencyMissing(err), service.IsServiceUnavailable(err):
		return http.StatusServiceUnavailable
	case completion.IsCompletionFailed(err):
		if errors.Is(err, completion.ErrEmptyPrompt) || errors.Is(err, completion.ErrInvalidSettings) {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
