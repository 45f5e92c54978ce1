package manager

import "net/http"

// modelNotFoundError is returned when a requested model id is not in the catalog.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound returns an error for an id absent from the catalog.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// settingsWriteError wraps a failure to persist the settings document.
type settingsWriteError struct{ err error }

func (e settingsWriteError) Error() string { return "save settings: " + e.err.Error() }

func (e settingsWriteError) Unwrap() error { return e.err }

func (e settingsWriteError) StatusCode() int { return http.StatusInternalServerError }

// IsSettingsWrite reports whether err is a settings persistence failure.
func IsSettingsWrite(err error) bool {
	_, ok := err.(settingsWriteError)
	return ok
}
