package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"itemharness/internal/api"
	"itemharness/internal/pool"
)

// expirySkew treats a token about to expire as already expired.
const expirySkew = 30 * time.Second

// TokenBackend is the part of the API the token cache needs.
type TokenBackend interface {
	Login(ctx context.Context, email, password string) (api.LoginResult, error)
	WhoAmI(ctx context.Context, token string) (api.User, error)
}

// APIBackend adapts an *api.Client to TokenBackend.
type APIBackend struct {
	Client *api.Client
}

func (b APIBackend) Login(ctx context.Context, email, password string) (api.LoginResult, error) {
	return b.Client.Login(ctx, email, password)
}

func (b APIBackend) WhoAmI(ctx context.Context, token string) (api.User, error) {
	return b.Client.WithToken(token).Me(ctx)
}

// Credential is an authenticated identity.
type Credential struct {
	Token  string
	User   api.User
	Reused bool
}

type tokenRecord struct {
	Token string   `json:"token"`
	User  api.User `json:"user"`
}

// TokenCache caches bearer tokens as <dir>/<email>.json.
type TokenCache struct {
	dir     string
	backend TokenBackend
	now     func() time.Time
	opts    options
}

// NewTokenCache creates a token cache rooted at dir.
func NewTokenCache(dir string, backend TokenBackend, opts ...Option) *TokenCache {
	return &TokenCache{
		dir:     dir,
		backend: backend,
		now:     time.Now,
		opts:    buildOptions(opts),
	}
}

// Path returns the cache file for email.
func (c *TokenCache) Path(email string) (string, error) {
	return cachePath(c.dir, email, ".json")
}

// Authenticate returns a valid token for id, reusing the cached one when
// the backend still accepts it. A rejected token is deleted before the
// fresh login, so it does not outlive a failed login either.
func (c *TokenCache) Authenticate(ctx context.Context, id pool.Identity) (Credential, error) {
	path, err := c.Path(id.Email)
	if err != nil {
		return Credential{}, err
	}
	log := c.opts.logger.With(zap.String("email", id.Email))

	if rec, ok := c.load(path, log); ok {
		if user, valid := c.validate(ctx, rec, log); valid {
			c.opts.record(ResultReused)
			log.Debug("cached token valid")
			return Credential{Token: rec.Token, User: user, Reused: true}, nil
		}
		if err := c.remove(path); err != nil {
			return Credential{}, err
		}
	}

	log.Info("logging in")
	res, err := c.backend.Login(ctx, id.Email, id.Password)
	if err != nil {
		c.opts.record(ResultFailed)
		return Credential{}, &AuthError{Email: id.Email, Cause: err}
	}

	data, err := json.Marshal(tokenRecord{Token: res.Token, User: res.User})
	if err != nil {
		return Credential{}, fmt.Errorf("encode token cache for %s: %w", id.Email, err)
	}
	if err := pool.WriteFileAtomic(path, data, 0o600); err != nil {
		return Credential{}, fmt.Errorf("persist token cache for %s: %w", id.Email, err)
	}
	c.opts.record(ResultRefreshed)
	return Credential{Token: res.Token, User: res.User}, nil
}

// Invalidate removes the cached token for email.
func (c *TokenCache) Invalidate(email string) error {
	path, err := c.Path(email)
	if err != nil {
		return err
	}
	return c.remove(path)
}

func (c *TokenCache) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token cache %s: %w", path, err)
	}
	return nil
}

// load reads the cache file. Anything unreadable is a miss.
func (c *TokenCache) load(path string, log *zap.Logger) (tokenRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("token cache unreadable", zap.String("path", path), zap.Error(err))
		}
		return tokenRecord{}, false
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Token == "" {
		log.Warn("token cache corrupt, ignoring", zap.String("path", path))
		return tokenRecord{}, false
	}
	return rec, true
}

func (c *TokenCache) validate(ctx context.Context, rec tokenRecord, log *zap.Logger) (api.User, bool) {
	if c.expired(rec.Token) {
		log.Info("cached token expired")
		return api.User{}, false
	}
	user, err := c.backend.WhoAmI(ctx, rec.Token)
	if err != nil {
		log.Info("cached token rejected", zap.Error(err))
		return api.User{}, false
	}
	if user.ID == "" {
		user = rec.User
	}
	return user, true
}

// expired reports whether token is a JWT whose exp has passed. Opaque
// tokens are left to the backend to judge.
func (c *TokenCache) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(c.now().Add(expirySkew))
}
