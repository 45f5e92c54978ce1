package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"loramint/internal/engine"
	"loramint/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps a service error to an HTTP status. Engine 5xx answers become
// 502 and an unreachable engine becomes 503; engine 4xx answers pass through.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		code := he.StatusCode()
		if engine.IsStatusError(err) && code >= 500 {
			return http.StatusBadGateway
		}
		if code < 400 || code > 599 {
			return http.StatusInternalServerError
		}
		return code
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
