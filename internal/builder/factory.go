package builder

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"itemharness/internal/pool"
)

// DefaultFactorySeed makes role data reproducible across runs.
const DefaultFactorySeed = 42

// Role-specific set sizes.
const (
	AdminItemCount  = 15
	EditorItemCount = 10
	ViewerItemCount = 5
)

// Factory generates role-specific templates from a seeded generator, so the
// same seed always yields the same templates. A Factory is not safe for
// concurrent use.
type Factory struct {
	rng *rand.Rand
}

// NewFactory creates a factory seeded with seed.
func NewFactory(seed int64) *Factory {
	return &Factory{rng: rand.New(rand.NewSource(seed))}
}

// Item creates a template and fills in the fields its type requires.
func (f *Factory) Item(name, category string, typ ItemType, price float64) Template {
	t := Template{
		Name:        name,
		Description: category + " item for testing",
		Category:    category,
		ItemType:    typ,
		Price:       price,
	}
	f.applyTypeDefaults(&t)
	return t
}

func (f *Factory) applyTypeDefaults(t *Template) {
	switch t.ItemType {
	case Physical:
		if t.Weight == 0 {
			t.Weight = round(0.1+f.rng.Float64()*9.9, 1)
		}
		if t.Dimensions == nil {
			t.Dimensions = &Dimensions{
				Length: float64(f.between(5, 50)),
				Width:  float64(f.between(5, 50)),
				Height: float64(f.between(2, 30)),
			}
		}
	case Digital:
		if t.DownloadURL == "" {
			t.DownloadURL = "https://example.com/" + strings.ReplaceAll(strings.ToLower(t.Name), " ", "_")
		}
		if t.FileSize == 0 {
			t.FileSize = int64(f.between(50, 1000))
		}
	case Service:
		if t.DurationHours == 0 {
			t.DurationHours = f.between(1, 8)
		}
	}
}

// between returns an int in [lo, hi].
func (f *Factory) between(lo, hi int) int {
	return lo + f.rng.Intn(hi-lo+1)
}

func (f *Factory) price(lo, hi float64) float64 {
	return round(lo+f.rng.Float64()*(hi-lo), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (f *Factory) pick(options []string) string {
	return options[f.rng.Intn(len(options))]
}

// AdminItems generates n admin templates across every category.
// Electronics items are always physical.
func (f *Factory) AdminItems(n int) []Template {
	categories := []string{"Electronics", "Software", "Home", "Books"}
	out := make([]Template, 0, n)
	for i := 1; i <= n; i++ {
		cat := f.pick(categories)
		typ := Physical
		if cat == "Software" {
			typ = Digital
		}
		t := f.Item(fmt.Sprintf("Admin Item %d", i), cat, typ, f.price(10, 500))
		t.Description = fmt.Sprintf("Admin-specific %s item for testing", strings.ToLower(cat))
		out = append(out, t)
	}
	return out
}

// EditorItems generates n editor templates.
func (f *Factory) EditorItems(n int) []Template {
	categories := []string{"Books", "Software", "Home"}
	out := make([]Template, 0, n)
	for i := 1; i <= n; i++ {
		cat := f.pick(categories)
		typ := Physical
		if cat == "Software" {
			typ = Digital
		}
		t := f.Item(fmt.Sprintf("Editor Item %d", i), cat, typ, f.price(5, 200))
		t.Description = fmt.Sprintf("Editor-specific %s item for testing", strings.ToLower(cat))
		out = append(out, t)
	}
	return out
}

// ViewerItems generates n viewer templates. Viewers cannot create items, so
// these are only ever written through the direct store path.
func (f *Factory) ViewerItems(n int) []Template {
	categories := []string{"Books", "Software"}
	out := make([]Template, 0, n)
	for i := 1; i <= n; i++ {
		cat := f.pick(categories)
		typ := Digital
		if cat == "Books" {
			typ = Physical
		}
		t := f.Item(fmt.Sprintf("Viewer Item %d", i), cat, typ, f.price(10, 100))
		t.Description = fmt.Sprintf("Viewer seed data %s item", strings.ToLower(cat))
		out = append(out, t)
	}
	return out
}

// ForRole returns the role's default set. count <= 0 selects the default
// size for the role.
func (f *Factory) ForRole(role pool.Role, count int) []Template {
	switch role {
	case pool.RoleAdmin:
		return f.AdminItems(orDefault(count, AdminItemCount))
	case pool.RoleEditor:
		return f.EditorItems(orDefault(count, EditorItemCount))
	case pool.RoleViewer:
		return f.ViewerItems(orDefault(count, ViewerItemCount))
	}
	return append([]Template(nil), SeedItems...)
}

// ForEmail infers the role from the local part of email and returns its
// set; unknown emails get the standard SeedItems.
func (f *Factory) ForEmail(email string, count int) []Template {
	lower := strings.ToLower(email)
	for _, r := range pool.Roles {
		if strings.Contains(lower, strings.ToLower(string(r))) {
			return f.ForRole(r, count)
		}
	}
	return append([]Template(nil), SeedItems...)
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
