// Package lock provides a cross-process mutual-exclusion primitive backed by
// a lock file on the local filesystem.
//
// Acquisition waits for a bounded time only. A timeout is reported as a
// *TimeoutError and is never retried: a holder that keeps the lock for longer
// than the timeout is either deadlocked or stuck, and the caller should crash
// loudly instead of queueing behind it.
//
// # Basic Usage
//
//	lk := lock.New("state/user_pool.lock", 10*time.Second)
//	err := lk.With(ctx, func() error {
//		// read, mutate, save
//		return nil
//	})
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("lock acquisition timed out")

const (
	// DefaultTimeout is deliberately short; waiting longer means contention
	// has become a systemic problem.
	DefaultTimeout = 10 * time.Second

	defaultRetry = 25 * time.Millisecond
)

// TimeoutError reports a lock that could not be obtained within its timeout.
type TimeoutError struct {
	Path    string
	Waited  time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("failed to acquire lock %s after %s (timeout %s): system is congested or deadlocked",
		e.Path, e.Waited.Truncate(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// AtomicLock is a named filesystem lock with a fail-fast timeout.
// It is not reentrant: acquiring it twice from the same goroutine blocks
// until the timeout fires.
type AtomicLock struct {
	path    string
	timeout time.Duration
	retry   time.Duration
	logger  *zap.Logger
	observe func(time.Duration)
}

// Option configures an AtomicLock.
type Option func(*AtomicLock)

// WithRetryInterval sets how often a contended lock is polled.
func WithRetryInterval(d time.Duration) Option {
	return func(l *AtomicLock) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *AtomicLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithWaitObserver registers a callback that receives the time spent waiting
// for every successful acquisition.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *AtomicLock) { l.observe = fn }
}

// New creates a lock for path. A non-positive timeout selects DefaultTimeout.
func New(path string, timeout time.Duration, opts ...Option) *AtomicLock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &AtomicLock{
		path:    path,
		timeout: timeout,
		retry:   defaultRetry,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path.
func (l *AtomicLock) Path() string { return l.path }

// Timeout returns the configured acquisition timeout.
func (l *AtomicLock) Timeout() time.Duration { return l.timeout }

// Acquire blocks until the lock is held or the timeout elapses.
// The returned Guard must be released; prefer With for scoped use.
func (l *AtomicLock) Acquire(ctx context.Context) (*Guard, error) {
	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare lock directory for %s: %w", l.path, err)
		}
	}

	fl := flock.New(l.path)
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	ok, err := fl.TryLockContext(waitCtx, l.retry)
	waited := time.Since(start)
	if ok {
		if l.observe != nil {
			l.observe(waited)
		}
		return &Guard{fl: fl, path: l.path}, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		l.logger.Error("lock timeout",
			zap.String("path", l.path),
			zap.Duration("waited", waited),
			zap.Duration("timeout", l.timeout))
		return nil, &TimeoutError{Path: l.path, Waited: waited, Timeout: l.timeout}
	}
	return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
}

// With runs fn while holding the lock. The lock is released on every exit
// path, including a panic in fn.
func (l *AtomicLock) With(ctx context.Context, fn func() error) (err error) {
	g, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

// Guard is a held lock.
type Guard struct {
	mu   sync.Mutex
	fl   *flock.Flock
	path string
}

// Release unlocks the file. Calling it more than once is a no-op.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fl == nil {
		return nil
	}
	err := g.fl.Unlock()
	g.fl = nil
	if err != nil {
		return fmt.Errorf("release lock %s: %w", g.path, err)
	}
	return nil
}
