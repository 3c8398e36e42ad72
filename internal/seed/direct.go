package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"itemharness/internal/builder"
)

// ErrUserNotFound is returned when the store has no account for an email.
var ErrUserNotFound = errors.New("seed: user not found")

// PartialInsertError reports a bulk insert where some documents were
// rejected. The inserted ones stay.
type PartialInsertError struct {
	Inserted int
	Failed   int
	Messages []string
}

func (e *PartialInsertError) Error() string {
	msg := fmt.Sprintf("partial insert: %d inserted, %d failed", e.Inserted, e.Failed)
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	return msg
}

// ItemStore is the direct-store surface.
type ItemStore interface {
	// UserIDByEmail returns the owner id or ErrUserNotFound.
	UserIDByEmail(ctx context.Context, email string) (string, error)
	// CountSeedItems counts seed-tagged items of ownerID, stopping at limit
	// when limit > 0.
	CountSeedItems(ctx context.Context, ownerID string, limit int64) (int64, error)
	// ExistingNames returns which of names ownerID already has.
	ExistingNames(ctx context.Context, ownerID string, names []string) (map[string]bool, error)
	// InsertMany inserts records without stopping at the first failure.
	// A partial failure is a *PartialInsertError.
	InsertMany(ctx context.Context, records []builder.Record) (int, error)
	// DeleteSeedItems removes ownerID's seed-tagged items, or only counts
	// them when dryRun is set.
	DeleteSeedItems(ctx context.Context, ownerID string, dryRun bool) (int64, error)
}

// DirectResult describes one direct seeding.
type DirectResult struct {
	Email    string
	OwnerID  string
	Existing int64
	Inserted int
	// Skipped is set when enough seed items already existed.
	Skipped bool
	// Final is the authoritative count after a partial insert, otherwise
	// Existing plus Inserted.
	Final int64
}

// DirectSeeder is the store fast path.
type DirectSeeder struct {
	store ItemStore
	opts  options
}

// NewDirectSeeder creates a DirectSeeder over store.
func NewDirectSeeder(store ItemStore, opts ...Option) *DirectSeeder {
	return &DirectSeeder{store: store, opts: buildOptions(opts)}
}

// Seed inserts the templates missing for email's account. It is a no-op
// when the account already has at least as many seed items as templates.
func (d *DirectSeeder) Seed(ctx context.Context, email string, templates []builder.Template) (DirectResult, error) {
	res := DirectResult{Email: email}
	log := d.opts.logger.With(zap.String("email", email))

	ownerID, err := d.store.UserIDByEmail(ctx, email)
	if err != nil {
		return res, fmt.Errorf("resolve user %s: %w", email, err)
	}
	res.OwnerID = ownerID

	want := int64(len(templates))
	have, err := d.store.CountSeedItems(ctx, ownerID, want+1)
	if err != nil {
		return res, fmt.Errorf("count seed items for %s: %w", email, err)
	}
	res.Existing = have
	if have >= want {
		res.Skipped, res.Final = true, have
		log.Debug("seed data already present", zap.Int64("count", have))
		return res, nil
	}

	records, err := builder.BuildMany(templates, ownerID, d.opts.now())
	if err != nil {
		return res, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	present, err := d.store.ExistingNames(ctx, ownerID, names)
	if err != nil {
		return res, fmt.Errorf("check existing names for %s: %w", email, err)
	}
	missing := records[:0:0]
	for _, r := range records {
		if !present[r.Name] {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		res.Final = have
		return res, nil
	}

	n, err := d.store.InsertMany(ctx, missing)
	res.Inserted = n
	var partial *PartialInsertError
	switch {
	case errors.As(err, &partial):
		log.Warn("partial seed insert", zap.Int("inserted", partial.Inserted), zap.Int("failed", partial.Failed),
			zap.Strings("errors", firstN(partial.Messages, 3)))
		final, cerr := d.store.CountSeedItems(ctx, ownerID, 0)
		if cerr != nil {
			return res, fmt.Errorf("recount seed items for %s: %w", email, cerr)
		}
		res.Final = final
		return res, nil
	case err != nil:
		return res, fmt.Errorf("insert seed items for %s: %w", email, err)
	}
	res.Final = have + int64(n)
	log.Info("seed items inserted", zap.Int("inserted", n))
	return res, nil
}

// Cleanup removes email's seed items; dryRun only counts them.
func (d *DirectSeeder) Cleanup(ctx context.Context, email string, dryRun bool) (int64, error) {
	ownerID, err := d.store.UserIDByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("resolve user %s: %w", email, err)
	}
	n, err := d.store.DeleteSeedItems(ctx, ownerID, dryRun)
	if err != nil {
		return 0, fmt.Errorf("delete seed items for %s: %w", email, err)
	}
	d.opts.logger.Info("seed cleanup", zap.String("email", email), zap.Int64("items", n), zap.Bool("dry_run", dryRun))
	return n, nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
