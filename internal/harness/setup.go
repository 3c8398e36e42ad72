package harness

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"itemharness/internal/builder"
	"itemharness/internal/credential"
	"itemharness/internal/lease"
	"itemharness/internal/logging"
	"itemharness/internal/seed"
)

// SetupReport describes one SessionSetup run.
type SetupReport struct {
	RollCall bool // this process ran the roll call
	Cleared  int  // reservations freed by the roll call

	Direct map[string]seed.DirectResult
	API    map[string]seed.Summary
	// Errors holds per-user seeding failures. They do not fail the setup.
	Errors map[string]error
}

// SessionSetup prepares the shared state of a test session. The coordinator
// frees stale reservations; every process then seeds the configured users,
// which is idempotent.
func (h *Harness) SessionSetup(ctx context.Context) (SetupReport, error) {
	rep := SetupReport{
		Direct: map[string]seed.DirectResult{},
		API:    map[string]seed.Summary{},
		Errors: map[string]error{},
	}

	if lease.IsCoordinator() {
		timer := logging.StartTimer(h.log, "roll call")
		n, err := h.RollCall(ctx)
		timer.Stop()
		if err != nil {
			return rep, err
		}
		rep.RollCall, rep.Cleared = true, n
	} else {
		h.log.Debug("not the coordinator, skipping roll call")
	}

	if h.cfg.EnableGlobalSeed {
		if err := h.seedDirect(ctx, &rep); err != nil {
			return rep, err
		}
	}
	if h.cfg.EnableAPISeed {
		if err := h.seedAPI(ctx, &rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// RollCall frees every reservation.
func (h *Harness) RollCall(ctx context.Context) (int, error) {
	return lease.RollCall(ctx, h.pool, h.locker, h.logs.Get(logging.CategoryLease))
}

// fanOut runs fn for every seed user with bounded concurrency. Per-user
// errors are recorded in rep and never cancel the others.
func (h *Harness) fanOut(ctx context.Context, rep *SetupReport, fn func(ctx context.Context, email string) error) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if n := h.cfg.SeedConcurrency; n > 0 {
		g.SetLimit(n)
	}
	for _, email := range h.cfg.SeedUsers {
		g.Go(func() error {
			if err := fn(gctx, email); err != nil {
				h.log.Warn("seeding user failed", zap.String("email", email), zap.Error(err))
				mu.Lock()
				rep.Errors[email] = err
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (h *Harness) seedDirect(ctx context.Context, rep *SetupReport) error {
	s, err := h.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open direct store: %w", err)
	}
	d := seed.NewDirectSeeder(s, seed.WithLogger(h.logs.Get(logging.CategoryStore)))
	var mu sync.Mutex
	return h.fanOut(ctx, rep, func(ctx context.Context, email string) error {
		templates := builder.NewFactory(builder.DefaultFactorySeed).ForEmail(email, 0)
		res, err := d.Seed(ctx, email, templates)
		if err != nil {
			return err
		}
		mu.Lock()
		rep.Direct[email] = res
		mu.Unlock()
		return nil
	})
}

func (h *Harness) seedAPI(ctx context.Context, rep *SetupReport) error {
	var mu sync.Mutex
	return h.fanOut(ctx, rep, func(ctx context.Context, email string) error {
		sum, skipped, err := h.SeedUser(ctx, email)
		if err != nil || skipped {
			return err
		}
		mu.Lock()
		rep.API[email] = sum
		mu.Unlock()
		return nil
	})
}

// SeedUser heals email's seed data through the API without leasing it.
// Results are cached per email for the life of the harness. Read-only
// roles are skipped.
func (h *Harness) SeedUser(ctx context.Context, email string) (seed.Summary, bool, error) {
	h.seedMu.Lock()
	if sum, ok := h.seeded[email]; ok {
		h.seedMu.Unlock()
		return sum, false, nil
	}
	h.seedMu.Unlock()

	p, err := h.leases.Pool()
	if err != nil {
		return seed.Summary{}, false, err
	}
	id, ok := p.Lookup(email)
	if !ok {
		return seed.Summary{}, false, fmt.Errorf("%s is not in the identity pool", email)
	}
	if !id.Role.CanWrite() {
		h.log.Debug("read-only role, not seeding", zap.String("email", email))
		return seed.Summary{}, true, nil
	}

	cred, err := h.tokens.Authenticate(ctx, id)
	if err != nil {
		return seed.Summary{}, false, err
	}
	sum, err := h.healer.Heal(ctx, h.client.WithToken(cred.Token), cred.User.ID, h.templates(email))
	if err != nil {
		return seed.Summary{}, false, err
	}

	h.seedMu.Lock()
	h.seeded[email] = sum
	h.seedMu.Unlock()
	return sum, false, nil
}

// DirectSeed seeds emails through the direct store with factory data.
func (h *Harness) DirectSeed(ctx context.Context, emails []string) (map[string]seed.DirectResult, error) {
	s, err := h.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open direct store: %w", err)
	}
	d := seed.NewDirectSeeder(s, seed.WithLogger(h.logs.Get(logging.CategoryStore)))
	out := make(map[string]seed.DirectResult, len(emails))
	for _, email := range emails {
		res, err := d.Seed(ctx, email, builder.NewFactory(builder.DefaultFactorySeed).ForEmail(email, 0))
		if err != nil {
			return out, err
		}
		out[email] = res
	}
	return out, nil
}

// CleanupSeedItems removes email's seed items through the direct store.
// It is refused unless cleanup is enabled and the store is configured.
func (h *Harness) CleanupSeedItems(ctx context.Context, email string, dryRun bool) (int64, error) {
	if err := h.cfg.CheckCleanup(true); err != nil {
		return 0, err
	}
	s, err := h.openStore(ctx)
	if err != nil {
		return 0, fmt.Errorf("open direct store: %w", err)
	}
	return seed.NewDirectSeeder(s, seed.WithLogger(h.logs.Get(logging.CategoryStore))).Cleanup(ctx, email, dryRun)
}

// CleanupUserItems permanently deletes every item of email's account
// through the internal endpoint. It is refused unless cleanup is enabled.
func (h *Harness) CleanupUserItems(ctx context.Context, email string) error {
	if err := h.cfg.CheckCleanup(false); err != nil {
		return err
	}
	userID, err := h.userID(ctx, email)
	if err != nil {
		return err
	}
	return h.client.DeleteUserItems(ctx, userID)
}

// CleanupUserData deletes all data owned by email's account.
func (h *Harness) CleanupUserData(ctx context.Context, email string) error {
	if err := h.cfg.CheckCleanup(false); err != nil {
		return err
	}
	userID, err := h.userID(ctx, email)
	if err != nil {
		return err
	}
	return h.client.DeleteUserData(ctx, userID)
}

func (h *Harness) userID(ctx context.Context, email string) (string, error) {
	cred, err := h.Authenticate(ctx, email)
	if err != nil {
		return "", err
	}
	return cred.User.ID, nil
}

// Authenticate returns a cached or fresh token for email without leasing.
func (h *Harness) Authenticate(ctx context.Context, email string) (credential.Credential, error) {
	p, err := h.leases.Pool()
	if err != nil {
		return credential.Credential{}, err
	}
	id, ok := p.Lookup(email)
	if !ok {
		return credential.Credential{}, fmt.Errorf("%s is not in the identity pool", email)
	}
	return h.tokens.Authenticate(ctx, id)
}
