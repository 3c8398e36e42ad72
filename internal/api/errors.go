package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is a response outside the 2xx range.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// HasStatus reports whether err is a *StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// IsConflict reports a 409, the backend's unique-name or version conflict.
func IsConflict(err error) bool { return HasStatus(err, http.StatusConflict) }

// IsNotFound reports a 404.
func IsNotFound(err error) bool { return HasStatus(err, http.StatusNotFound) }

// IsForbidden reports a 403.
func IsForbidden(err error) bool { return HasStatus(err, http.StatusForbidden) }

// IsUnauthorized reports a 401.
func IsUnauthorized(err error) bool { return HasStatus(err, http.StatusUnauthorized) }
