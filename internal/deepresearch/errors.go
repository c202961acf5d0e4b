package deepresearch

import (
	"errors"
	"fmt"
)

// ErrAuthExpired matches any *AuthExpiredError via errors.Is.
var ErrAuthExpired = errors.New("authentication expired")

// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// AuthExpiredError is returned on HTTP 401 or 403.
type AuthExpiredError struct {
	Code    int
	Message string
}

func (e *AuthExpiredError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication expired (HTTP %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication expired (HTTP %d)", e.Code)
}

func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// IsAuthExpired reports whether err carries an authentication failure.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsTransient reports whether err is worth retrying on the next tick.
// Authentication failures are not transient.
func IsTransient(err error) bool {
	if err == nil || IsAuthExpired(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429 || se.Code == 408
	}
	return true
}
