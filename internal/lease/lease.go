// Package lease hands out exclusive test identities to workers.
//
// A Manager serializes every read-modify-write of the reservation table
// behind the pool lock. The lock is held only for the load, mutate and save
// of the table; network calls made with a leased identity happen outside it.
//
// Exhaustion is fail-fast: when no identity of a role is free, Acquire
// returns ErrPoolExhausted at once instead of waiting for a release.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"itemharness/internal/pool"
)

// WorkerIDEnv is set by the coordinator on every fanned-out worker process.
// A process without it is the coordinator.
const WorkerIDEnv = "HARNESS_WORKER_ID"

// ErrAlreadyLeased is returned by Acquire on a lease that still holds an
// identity.
var ErrAlreadyLeased = errors.New("lease already holds an identity")

// Locker is the critical-section primitive guarding the reservation table.
type Locker interface {
	With(ctx context.Context, fn func() error) error
	Path() string
}

// Outcome labels an acquisition result for observers.
type Outcome string

const (
	OutcomeLeased    Outcome = "leased"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeError     Outcome = "error"
)

// Manager leases identities from a pool store on behalf of one worker.
type Manager struct {
	store    pool.Store
	locker   Locker
	workerID string
	logger   *zap.Logger
	observe  func(pool.Role, Outcome)

	poolOnce sync.Once
	pool     pool.Pool
	poolErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every Acquire.
func WithObserver(fn func(pool.Role, Outcome)) Option {
	return func(m *Manager) { m.observe = fn }
}

// NewManager creates a manager for workerID.
func NewManager(store pool.Store, locker Locker, workerID string, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		locker:   locker,
		workerID: workerID,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("worker", workerID))
	return m
}

// WorkerID returns the id written into reservations.
func (m *Manager) WorkerID() string { return m.workerID }

// Pool returns the static pool, loading it on first use. The pool never
// changes at runtime so it is read outside the lock.
func (m *Manager) Pool() (pool.Pool, error) {
	m.poolOnce.Do(func() {
		m.pool, m.poolErr = m.store.LoadPool()
	})
	return m.pool, m.poolErr
}

// NewLease returns an unleased lease bound to this manager.
func (m *Manager) NewLease() *Lease {
	return &Lease{m: m}
}

// Acquire is shorthand for NewLease followed by Lease.Acquire.
func (m *Manager) Acquire(ctx context.Context, role pool.Role) (*Lease, error) {
	l := m.NewLease()
	if _, err := l.Acquire(ctx, role); err != nil {
		return nil, err
	}
	return l, nil
}

// ReleaseEmail removes the reservation for email whoever holds it and
// reports whether one existed.
func (m *Manager) ReleaseEmail(ctx context.Context, email string) (bool, error) {
	var found bool
	err := m.locker.With(ctx, func() error {
		r := m.store.LoadReservations()
		if _, found = r[email]; !found {
			return nil
		}
		delete(r, email)
		return m.store.SaveReservations(r)
	})
	if err != nil {
		return false, fmt.Errorf("release %s: %w", email, err)
	}
	if found {
		m.logger.Info("reservation cleared", zap.String("email", email))
	}
	return found, nil
}

// Snapshot returns a copy of the reservation table read under the lock.
func (m *Manager) Snapshot(ctx context.Context) (pool.Reservations, error) {
	var out pool.Reservations
	err := m.locker.With(ctx, func() error {
		out = m.store.LoadReservations().Clone()
		return nil
	})
	return out, err
}

func (m *Manager) record(role pool.Role, o Outcome) {
	if m.observe != nil {
		m.observe(role, o)
	}
}

type state int

const (
	unleased state = iota
	leased
)

// Lease is one worker's claim on one identity. It moves from unleased to
// leased on Acquire and back on Release. The zero Lease is not usable; get
// one from Manager.NewLease.
type Lease struct {
	m *Manager

	mu       sync.Mutex
	state    state
	identity pool.Identity
}

// Identity returns the held identity and whether one is held.
func (l *Lease) Identity() (pool.Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.identity, l.state == leased
}

// Acquire reserves the first free identity of role.
func (l *Lease) Acquire(ctx context.Context, role pool.Role) (pool.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == leased {
		return pool.Identity{}, fmt.Errorf("%w: %s", ErrAlreadyLeased, l.identity.Email)
	}

	m := l.m
	p, err := m.Pool()
	if err != nil {
		m.record(role, OutcomeError)
		return pool.Identity{}, err
	}

	var got pool.Identity
	err = m.locker.With(ctx, func() error {
		r := m.store.LoadReservations()
		id, ok := pool.FindFree(p, r, role)
		if !ok {
			return fmt.Errorf("%w: no free %s identity for worker %s (%d defined)",
				pool.ErrPoolExhausted, role, m.workerID, len(p[role]))
		}
		r[id.Email] = m.workerID
		if err := m.store.SaveReservations(r); err != nil {
			return fmt.Errorf("reserve %s: %w", id.Email, err)
		}
		got = id
		return nil
	})
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			m.record(role, OutcomeExhausted)
			m.logger.Error("identity pool exhausted", zap.String("role", string(role)))
		} else {
			m.record(role, OutcomeError)
		}
		return pool.Identity{}, err
	}

	l.state = leased
	l.identity = got
	m.record(role, OutcomeLeased)
	m.logger.Info("identity leased",
		zap.String("email", got.Email), zap.String("role", string(role)))
	return got, nil
}

// Release frees the held identity. It is a no-op on a lease that holds
// nothing, so teardown can call it unconditionally. The reservation is
// removed only if this worker still holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != leased {
		return nil
	}

	m := l.m
	email := l.identity.Email
	err := m.locker.With(ctx, func() error {
		r := m.store.LoadReservations()
		holder, ok := r[email]
		if !ok || holder != m.workerID {
			return nil
		}
		delete(r, email)
		return m.store.SaveReservations(r)
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", email, err)
	}

	l.state = unleased
	l.identity = pool.Identity{}
	m.logger.Info("identity released", zap.String("email", email))
	return nil
}

// IsCoordinator reports whether this process is the session coordinator,
// i.e. no worker id marker was inherited from a parent session.
func IsCoordinator() bool {
	return os.Getenv(WorkerIDEnv) == ""
}

// RollCall frees every reservation. It recovers identities left reserved by
// a crashed run and must run once per session before any worker leases.
func RollCall(ctx context.Context, store pool.Store, locker Locker, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var cleared int
	err := locker.With(ctx, func() error {
		n, err := store.ResetAll()
		cleared = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("roll call on %s: %w", locker.Path(), err)
	}
	logger.Info("roll call complete", zap.Int("cleared", cleared), zap.String("lock", locker.Path()))
	return cleared, nil
}
