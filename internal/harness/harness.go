// Package harness assembles ready-to-use test actors.
//
// An actor is built in a fixed order: lease an identity, authenticate it
// through the credential cache, heal its seed data (writable roles only).
// Any failure after the lease releases it again, so a broken setup never
// strands an identity.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemharness/internal/api"
	"itemharness/internal/browser"
	"itemharness/internal/builder"
	"itemharness/internal/config"
	"itemharness/internal/credential"
	"itemharness/internal/lease"
	"itemharness/internal/lock"
	"itemharness/internal/logging"
	"itemharness/internal/metrics"
	"itemharness/internal/pool"
	"itemharness/internal/seed"
	"itemharness/internal/store"
)

// Options customizes a Harness. Zero values select the production wiring.
type Options struct {
	Loggers  *logging.Registry
	Metrics  *metrics.Metrics
	WorkerID string

	// Templates chooses the heal templates for an email. Defaults to
	// builder.SeedItems for everyone.
	Templates func(email string) []builder.Template

	// Gateway replaces the browser gateway used by UI actors.
	Gateway credential.Gateway
	// ItemStore replaces the MongoDB store used for direct seeding.
	ItemStore seed.ItemStore
}

// Harness owns the shared infrastructure of one worker process.
type Harness struct {
	cfg      *config.Config
	logs     *logging.Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
	workerID string

	pool   *pool.FileStore
	locker *lock.AtomicLock
	leases *lease.Manager
	client *api.Client
	tokens *credential.TokenCache
	healer *seed.Healer

	templates func(email string) []builder.Template

	gwOnce   sync.Once
	gateway  credential.Gateway
	browser  *browser.Manager
	sessions *credential.SessionCache

	storeMu   sync.Mutex
	itemStore seed.ItemStore
	mongo     *store.MongoStore

	seedMu sync.Mutex
	seeded map[string]seed.Summary
}

// New wires a Harness from cfg. It validates cfg and creates the state
// directories; it does not touch the network.
func New(cfg *config.Config, opts Options) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logs := opts.Loggers
	if logs == nil {
		logs = logging.NewRegistry(zap.NewNop(), nil)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = os.Getenv(lease.WorkerIDEnv)
	}
	if workerID == "" {
		workerID = uuid.NewString()
	}

	for _, dir := range []string{cfg.StateDir, cfg.CredentialDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}

	client, err := api.NewClient(api.Config{
		BaseURL:     cfg.APIBaseURL,
		Timeout:     cfg.GetHTTPTimeout(),
		RateLimit:   cfg.APIRateLimit,
		InternalKey: cfg.InternalAutomationSecret,
		Logger:      logs.Get(logging.CategoryAPI),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	h := &Harness{
		cfg:       cfg,
		logs:      logs,
		log:       logs.Get(logging.CategorySession).With(zap.String("worker", workerID)),
		metrics:   m,
		workerID:  workerID,
		client:    client,
		templates: opts.Templates,
		gateway:   opts.Gateway,
		itemStore: opts.ItemStore,
		seeded:    map[string]seed.Summary{},
	}
	if h.templates == nil {
		h.templates = func(string) []builder.Template { return builder.SeedItems }
	}

	h.pool = pool.NewFileStore(cfg.PoolPath(), cfg.ReservationPath(), logs.Get(logging.CategoryLease))
	h.locker = lock.New(cfg.LockPath(), cfg.GetLockTimeout(),
		lock.WithLogger(logs.Get(logging.CategoryLock)),
		lock.WithWaitObserver(m.ObserveLockWait))
	h.leases = lease.NewManager(h.pool, h.locker, workerID,
		lease.WithLogger(logs.Get(logging.CategoryLease)),
		lease.WithObserver(m.ObserveLease))
	h.tokens = credential.NewTokenCache(cfg.CredentialDir(), credential.APIBackend{Client: client},
		credential.WithLogger(logs.Get(logging.CategoryAuth)),
		credential.WithObserver(m.AuthObserver("token")))
	h.healer = seed.NewHealer(
		seed.WithLogger(logs.Get(logging.CategorySeed)),
		seed.WithObserver(m.ObserveSeed))
	return h, nil
}

// WorkerID identifies this process in the reservation table.
func (h *Harness) WorkerID() string { return h.workerID }

// Config returns the configuration.
func (h *Harness) Config() *config.Config { return h.cfg }

// Metrics returns the collectors.
func (h *Harness) Metrics() *metrics.Metrics { return h.metrics }

// Leases returns the lease manager.
func (h *Harness) Leases() *lease.Manager { return h.leases }

// PoolStore returns the file-backed pool and reservation table.
func (h *Harness) PoolStore() *pool.FileStore { return h.pool }

// Tokens returns the token cache.
func (h *Harness) Tokens() *credential.TokenCache { return h.tokens }

// Client returns the unauthenticated API client.
func (h *Harness) Client() *api.Client { return h.client }

// Close shuts down the browser and the store connection if they were
// started.
func (h *Harness) Close(ctx context.Context) error {
	var errs []error
	if h.browser != nil {
		if err := h.browser.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown browser: %w", err))
		}
	}
	h.storeMu.Lock()
	if h.mongo != nil {
		if err := h.mongo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		h.mongo = nil
		h.itemStore = nil
	}
	h.storeMu.Unlock()
	return errors.Join(errs...)
}

// sessionCache lazily starts the browser gateway.
func (h *Harness) sessionCache() *credential.SessionCache {
	h.gwOnce.Do(func() {
		if h.gateway == nil {
			bcfg := browser.DefaultConfig(h.cfg.FrontendBaseURL)
			bcfg.Headless = h.cfg.Browser.Headless
			bcfg.Bin = h.cfg.Browser.Bin
			bcfg.ControlURL = h.cfg.Browser.ControlURL
			bcfg.NavigationTimeout = h.cfg.GetNavigationTimeout()
			if p := h.cfg.Browser.LoginPath; p != "" {
				bcfg.LoginPath = p
			}
			if p := h.cfg.Browser.SuccessPath; p != "" {
				bcfg.SuccessPath = p
			}
			if p := h.cfg.Browser.ProtectedPath; p != "" {
				bcfg.ProtectedPath = p
			}
			h.browser = browser.NewManager(bcfg, h.logs.Get(logging.CategoryBrowser))
			h.gateway = h.browser
		}
		h.sessions = credential.NewSessionCache(h.cfg.CredentialDir(), h.gateway,
			credential.WithLogger(h.logs.Get(logging.CategoryAuth)),
			credential.WithObserver(h.metrics.AuthObserver("session")))
	})
	return h.sessions
}

// openStore lazily connects to the direct store.
func (h *Harness) openStore(ctx context.Context) (seed.ItemStore, error) {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()
	if h.itemStore != nil {
		return h.itemStore, nil
	}
	if !h.cfg.HasStore() {
		return nil, fmt.Errorf("%w: direct store requires mongodb_uri and mongodb_db_name", config.ErrConfig)
	}
	s, err := store.Open(ctx, store.Config{
		URI:      h.cfg.MongoDBURI,
		Database: h.cfg.MongoDBName,
	}, h.logs.Get(logging.CategoryStore))
	if err != nil {
		return nil, err
	}
	h.mongo = s
	h.itemStore = s
	return s, nil
}
