// Package seed converges a user's items towards a set of templates.
//
// Two paths exist. The Healer works through the public API and is safe to
// run from any number of workers at once: names are a pure function of the
// template and owner, so every duplicate create collapses into a 409 that is
// then resolved. The DirectSeeder writes straight to the store for fast
// session-level setup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"itemharness/internal/api"
	"itemharness/internal/builder"
)

// ErrConflictUnresolved is recorded when a create reported a duplicate but
// no matching item could be found for the owner.
var ErrConflictUnresolved = errors.New("seed: duplicate reported but no matching item found")

// ItemAPI is the slice of the API client the healer needs.
type ItemAPI interface {
	ListAllItems(ctx context.Context, opts api.ListOptions) ([]api.Item, error)
	CreateItem(ctx context.Context, payload any) (api.Item, error)
	ActivateItem(ctx context.Context, id string) (api.Item, error)
}

// State is where a template ended up.
type State string

const (
	StateAbsent       State = "absent"
	StateCreating     State = "creating"
	StateCreated      State = "created"
	StateConflict     State = "conflict"
	StateReactivating State = "reactivating"
	StateReactivated  State = "reactivated"
	StateUnresolved   State = "unresolved"
	StatePresent      State = "present"
	StateFailed       State = "failed"
)

// Terminal reports whether s ends a template's run.
func (s State) Terminal() bool {
	switch s {
	case StateCreated, StateReactivated, StateUnresolved, StatePresent, StateFailed:
		return true
	}
	return false
}

// Outcome is the result for one template.
type Outcome struct {
	Template string
	Name     string
	State    State
	Err      error
}

// Summary collects the outcomes of one heal run in template order.
type Summary struct {
	Outcomes []Outcome
	// Stopped is set when the backend refused writes and the remaining
	// templates were not attempted.
	Stopped bool
}

// Count returns how many templates ended in state.
func (s Summary) Count(state State) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Unresolved returns the outcomes whose conflict could not be resolved.
func (s Summary) Unresolved() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.State == StateUnresolved {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the failed outcomes.
func (s Summary) Failed() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// Option configures a Healer or DirectSeeder.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer func(State)
	now      func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver is called with every terminal state.
func WithObserver(fn func(State)) Option {
	return func(o *options) { o.observer = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Healer runs the API heal path.
type Healer struct {
	opts options
}

// NewHealer creates a Healer.
func NewHealer(opts ...Option) *Healer {
	return &Healer{opts: buildOptions(opts)}
}

// Heal makes every template present for ownerID. It returns an error only
// when the existing items cannot be listed; every per-template problem is
// recorded in the summary.
func (h *Healer) Heal(ctx context.Context, c ItemAPI, ownerID string, templates []builder.Template) (Summary, error) {
	log := h.opts.logger.With(zap.String("owner", ownerID))

	existing, err := h.existing(ctx, c)
	if err != nil {
		return Summary{}, fmt.Errorf("list existing items for %s: %w", ownerID, err)
	}

	now := h.opts.now()
	sum := Summary{Outcomes: make([]Outcome, 0, len(templates))}
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out := h.healOne(ctx, c, ownerID, t, now, existing, log)
		sum.Outcomes = append(sum.Outcomes, out)
		if h.opts.observer != nil {
			h.opts.observer(out.State)
		}
		if out.State == StateFailed && api.IsForbidden(out.Err) {
			log.Warn("backend refused item creation, stopping heal",
				zap.String("template", t.Name), zap.Error(out.Err))
			sum.Stopped = true
			break
		}
	}

	log.Info("heal finished",
		zap.Int("templates", len(templates)),
		zap.Int("created", sum.Count(StateCreated)),
		zap.Int("reactivated", sum.Count(StateReactivated)),
		zap.Int("present", sum.Count(StatePresent)),
		zap.Int("unresolved", sum.Count(StateUnresolved)),
		zap.Int("failed", sum.Count(StateFailed)))
	return sum, nil
}

// existing maps item names to items across both listings. An active item
// wins over an inactive one with the same name.
func (h *Healer) existing(ctx context.Context, c ItemAPI) (map[string]api.Item, error) {
	inactive, err := c.ListAllItems(ctx, api.ListOptions{Status: api.StatusInactive})
	if err != nil {
		return nil, err
	}
	active, err := c.ListAllItems(ctx, api.ListOptions{Status: api.StatusActive})
	if err != nil {
		return nil, err
	}
	byName := make(map[string]api.Item, len(active)+len(inactive))
	for _, it := range inactive {
		byName[it.Name] = it
	}
	for _, it := range active {
		byName[it.Name] = it
	}
	return byName, nil
}

func (h *Healer) healOne(ctx context.Context, c ItemAPI, ownerID string, t builder.Template, now time.Time, existing map[string]api.Item, log *zap.Logger) Outcome {
	out := Outcome{Template: t.Name, State: StateAbsent}
	rec, err := builder.New(ownerID, now).FromTemplate(t).Build()
	if err != nil {
		out.State, out.Err = StateFailed, err
		return out
	}
	out.Name = rec.Name
	log = log.With(zap.String("item", rec.Name))

	if it, ok := existing[rec.Name]; ok {
		if it.IsActive || !t.Active() {
			out.State = StatePresent
			return out
		}
		return h.reactivate(ctx, c, it, out, log)
	}

	out.State = StateCreating
	created, err := c.CreateItem(ctx, rec.APIPayload())
	switch {
	case err == nil:
		existing[rec.Name] = created
		out.State = StateCreated
		log.Debug("seed item created")
		return out
	case api.IsConflict(err):
		out.State = StateConflict
		return h.resolveConflict(ctx, c, t, out, log)
	default:
		out.State, out.Err = StateFailed, err
		log.Warn("seed item create failed", zap.Error(err))
		return out
	}
}

// resolveConflict looks for the owner's item that caused a 409. Another
// worker may have created it active since the listing, or it may be a
// soft-deleted item the listing missed.
func (h *Healer) resolveConflict(ctx context.Context, c ItemAPI, t builder.Template, out Outcome, log *zap.Logger) Outcome {
	for _, status := range []api.Status{api.StatusActive, api.StatusInactive} {
		items, err := c.ListAllItems(ctx, api.ListOptions{Search: out.Name, Status: status})
		if err != nil {
			out.State, out.Err = StateFailed, fmt.Errorf("search %s items: %w", status, err)
			log.Warn("conflict search failed", zap.Error(err))
			return out
		}
		for _, it := range items {
			if !strings.EqualFold(it.Name, out.Name) {
				continue
			}
			if it.IsActive || !t.Active() {
				out.State = StatePresent
				return out
			}
			return h.reactivate(ctx, c, it, out, log)
		}
	}
	out.State, out.Err = StateUnresolved, ErrConflictUnresolved
	log.Warn("duplicate name held by another owner, continuing")
	return out
}

func (h *Healer) reactivate(ctx context.Context, c ItemAPI, it api.Item, out Outcome, log *zap.Logger) Outcome {
	out.State = StateReactivating
	if _, err := c.ActivateItem(ctx, it.ID); err != nil {
		out.State, out.Err = StateFailed, fmt.Errorf("reactivate %s: %w", it.ID, err)
		log.Warn("seed item reactivation failed", zap.String("id", it.ID), zap.Error(err))
		return out
	}
	out.State = StateReactivated
	log.Info("soft-deleted seed item reactivated", zap.String("id", it.ID))
	return out
}
