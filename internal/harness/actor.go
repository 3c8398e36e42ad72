package harness

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"itemharness/internal/api"
	"itemharness/internal/lease"
	"itemharness/internal/pool"
	"itemharness/internal/seed"
)

// Actor is a leased, authenticated identity ready for tests.
type Actor struct {
	Identity pool.Identity
	User     api.User
	Token    string
	// API is authenticated as the actor.
	API *api.Client
	// Seed is the heal result; empty for read-only roles.
	Seed seed.Summary
	// StatePath is the browser storage-state file of a UI actor.
	StatePath string
	// StateReused reports whether StatePath came from the cache.
	StateReused bool

	lease *lease.Lease
	log   *zap.Logger
}

// Close releases the actor's identity. It is safe to call more than once.
func (a *Actor) Close(ctx context.Context) error {
	if a == nil || a.lease == nil {
		return nil
	}
	return a.lease.Release(ctx)
}

// NewActor leases an identity of role, authenticates it and, for writable
// roles, heals its seed data. The identity is released on any failure.
func (h *Harness) NewActor(ctx context.Context, role pool.Role) (*Actor, error) {
	l, err := h.leases.Acquire(ctx, role)
	if err != nil {
		return nil, err
	}
	id, _ := l.Identity()
	a := &Actor{Identity: id, lease: l, log: h.log.With(zap.String("email", id.Email))}

	if err := h.prepare(ctx, a); err != nil {
		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			a.log.Error("release after failed setup", zap.Error(rerr))
		}
		return nil, err
	}
	return a, nil
}

func (h *Harness) prepare(ctx context.Context, a *Actor) error {
	cred, err := h.tokens.Authenticate(ctx, a.Identity)
	if err != nil {
		return err
	}
	a.User, a.Token = cred.User, cred.Token
	a.API = h.client.WithToken(cred.Token)

	if !a.Identity.Role.CanWrite() {
		return nil
	}
	sum, err := h.healer.Heal(ctx, a.API, cred.User.ID, h.templates(a.Identity.Email))
	if err != nil {
		return fmt.Errorf("heal seed data for %s: %w", a.Identity.Email, err)
	}
	a.Seed = sum
	return nil
}

// NewUIActor is NewActor plus a valid browser storage state.
func (h *Harness) NewUIActor(ctx context.Context, role pool.Role) (*Actor, error) {
	a, err := h.NewActor(ctx, role)
	if err != nil {
		return nil, err
	}
	path, reused, err := h.sessionCache().StorageState(ctx, a.Identity)
	if err != nil {
		if rerr := a.Close(context.WithoutCancel(ctx)); rerr != nil {
			a.log.Error("release after failed browser login", zap.Error(rerr))
		}
		return nil, err
	}
	a.StatePath, a.StateReused = path, reused
	return a, nil
}
