// Package credential caches per-identity login artifacts and validates them
// before reuse.
//
// Both caches follow the same gate: load the cached artifact, validate it
// against the real application, and only when that fails perform exactly one
// fresh login and overwrite the cache. A cache hit that validates costs zero
// logins. A failed fresh login is returned as an *AuthError.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrAuthentication is matched by every *AuthError.
var ErrAuthentication = errors.New("authentication failed")

// AuthError reports a fresh login that failed after a cache miss.
type AuthError struct {
	Email string
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login failed for %s: %v", e.Email, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrAuthentication) match.
func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

// Result labels how a credential was obtained.
type Result string

const (
	ResultReused    Result = "reused"
	ResultRefreshed Result = "refreshed"
	ResultFailed    Result = "failed"
)

// Option configures a cache.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	observe func(Result)
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers a callback invoked once per lookup.
func WithObserver(fn func(Result)) Option {
	return func(o *options) { o.observe = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) record(r Result) {
	if o.observe != nil {
		o.observe(r)
	}
}

// cachePath returns dir/<email><suffix>, refusing emails that would escape dir.
func cachePath(dir, email, suffix string) (string, error) {
	if email == "" || strings.ContainsAny(email, `/\`) || email == "." || email == ".." {
		return "", fmt.Errorf("invalid identity key %q for credential cache", email)
	}
	return filepath.Join(dir, email+suffix), nil
}
