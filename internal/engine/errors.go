package engine

import (
	"errors"
	"fmt"
)

// StatusError reports a non-2xx engine response.
type StatusError struct {
	Op     string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine %s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("engine %s: %s: %s", e.Op, e.Status, e.Body)
}

// StatusCode implements the HTTP layer's HTTPError interface.
func (e *StatusError) StatusCode() int { return e.Code }

// IsStatusError reports whether err carries an engine HTTP status.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
