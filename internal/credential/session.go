package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"itemharness/internal/browser"
	"itemharness/internal/pool"
)

// Gateway is the browser capability the session cache needs.
type Gateway interface {
	ValidateState(ctx context.Context, state browser.StorageState) (bool, error)
	Login(ctx context.Context, email, password string) (browser.StorageState, error)
}

// SessionCache caches browser storage state as <dir>/<email>_storage.json.
type SessionCache struct {
	dir  string
	gw   Gateway
	opts options
}

// NewSessionCache creates a session cache rooted at dir.
func NewSessionCache(dir string, gw Gateway, opts ...Option) *SessionCache {
	return &SessionCache{dir: dir, gw: gw, opts: buildOptions(opts)}
}

// Path returns the storage-state file for email.
func (c *SessionCache) Path(email string) (string, error) {
	return cachePath(c.dir, email, "_storage.json")
}

// StorageState returns the path of a storage-state file that is valid for
// id, and whether it was reused rather than freshly generated. A stored
// state that is malformed or fails validation is deleted before logging in
// again, so a stale file never survives a run.
func (c *SessionCache) StorageState(ctx context.Context, id pool.Identity) (string, bool, error) {
	path, err := c.Path(id.Email)
	if err != nil {
		return "", false, err
	}
	log := c.opts.logger.With(zap.String("email", id.Email), zap.String("path", path))

	if state, ok := c.load(path, log); ok {
		valid, err := c.gw.ValidateState(ctx, state)
		if err != nil {
			log.Warn("storage state validation failed", zap.Error(err))
		}
		if err == nil && valid {
			c.opts.record(ResultReused)
			log.Debug("storage state valid")
			return path, true, nil
		}
		log.Info("storage state expired, regenerating")
		if err := c.remove(path); err != nil {
			return "", false, err
		}
	}

	state, err := c.gw.Login(ctx, id.Email, id.Password)
	if err != nil {
		c.opts.record(ResultFailed)
		return "", false, &AuthError{Email: id.Email, Cause: err}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("encode storage state for %s: %w", id.Email, err)
	}
	if err := pool.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", false, fmt.Errorf("persist storage state for %s: %w", id.Email, err)
	}
	c.opts.record(ResultRefreshed)
	log.Info("storage state saved")
	return path, false, nil
}

// Invalidate removes the stored state for email.
func (c *SessionCache) Invalidate(email string) error {
	path, err := c.Path(email)
	if err != nil {
		return err
	}
	return c.remove(path)
}

func (c *SessionCache) load(path string, log *zap.Logger) (browser.StorageState, bool) {
	state, err := browser.ReadStateFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return browser.StorageState{}, false
	case err != nil:
		log.Warn("storage state unusable, deleting", zap.Error(err))
	case state.Empty():
		log.Info("storage state empty, deleting")
	default:
		return state, true
	}
	_ = c.remove(path)
	return browser.StorageState{}, false
}

func (c *SessionCache) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove storage state %s: %w", path, err)
	}
	return nil
}
