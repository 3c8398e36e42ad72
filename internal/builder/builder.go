// Package builder turns item templates into backend-ready records.
//
// The derived fields reproduce the backend's own normalization so that a
// record written straight to the store is indistinguishable from one created
// through the API:
//
//	name                 = template name + " - " + last 4 chars of owner id
//	normalizedName       = lowercase, trimmed, inner whitespace collapsed
//	normalizedNamePrefix = adaptive prefix of the owned name
//	normalizedCategory   = Title Case per word
package builder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTags are added to every built record.
var DefaultTags = []string{"seed", "v1.0"}

// SeedTag marks records created by seeding.
const SeedTag = "seed"

// ValidationError names required fields missing from a record.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("item record missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Record is a fully materialized item.
type Record struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description,omitempty"`
	Category             string      `json:"category,omitempty"`
	NormalizedName       string      `json:"normalizedName"`
	NormalizedNamePrefix string      `json:"normalizedNamePrefix"`
	NormalizedCategory   string      `json:"normalizedCategory,omitempty"`
	ItemType             ItemType    `json:"item_type,omitempty"`
	Price                float64     `json:"price"`
	Weight               *int        `json:"weight,omitempty"`
	Dimensions           *Dimensions `json:"dimensions,omitempty"`
	DownloadURL          string      `json:"download_url,omitempty"`
	FileSize             int64       `json:"file_size,omitempty"`
	DurationHours        int         `json:"duration_hours,omitempty"`
	Tags                 []string    `json:"tags"`
	IsActive             bool        `json:"is_active"`
	CreatedBy            string      `json:"created_by"`
	Version              int         `json:"version"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

// APIPayload returns the body for POST /items. Server-maintained fields
// (owner, version, timestamps, normalized fields) are left to the backend.
func (r Record) APIPayload() map[string]any {
	p := map[string]any{
		"name":      r.Name,
		"price":     r.Price,
		"tags":      r.Tags,
		"is_active": r.IsActive,
	}
	if r.Description != "" {
		p["description"] = r.Description
	}
	if r.Category != "" {
		p["category"] = r.Category
	}
	if r.ItemType != "" {
		p["item_type"] = string(r.ItemType)
	}
	if r.Weight != nil {
		p["weight"] = *r.Weight
	}
	if r.Dimensions != nil {
		p["dimensions"] = *r.Dimensions
	}
	if r.DownloadURL != "" {
		p["download_url"] = r.DownloadURL
	}
	if r.FileSize != 0 {
		p["file_size"] = r.FileSize
	}
	if r.DurationHours != 0 {
		p["duration_hours"] = r.DurationHours
	}
	return p
}

// OwnerSuffix returns the last four characters of ownerID.
func OwnerSuffix(ownerID string) string {
	if len(ownerID) <= 4 {
		return ownerID
	}
	return ownerID[len(ownerID)-4:]
}

// OwnedName namespaces name by owner. It is a pure function of its inputs,
// which is what makes healing safe to retry from any worker.
func OwnedName(name, ownerID string) string {
	return name + " - " + OwnerSuffix(ownerID)
}

// NormalizeName lowercases, trims and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NormalizeCategory title-cases each word: first rune upper, rest lower.
func NormalizeCategory(category string) string {
	words := strings.Fields(category)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// NamePrefix is the backend's adaptive search prefix: the whole name up to
// 2 characters, all but the last character for 3-4, the first 5 otherwise.
// Always lowercase.
func NamePrefix(name string) string {
	r := []rune(name)
	switch n := len(r); {
	case n <= 2:
	case n <= 4:
		r = r[:n-1]
	default:
		r = r[:5]
	}
	return strings.ToLower(string(r))
}

// MergeTags returns tags plus DefaultTags, deduplicated and sorted.
func MergeTags(tags []string) []string {
	set := make(map[string]struct{}, len(tags)+len(DefaultTags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, t := range DefaultTags {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Builder assembles one Record. Methods chain; Build validates.
type Builder struct {
	rec Record
}

// New starts a record owned by ownerID, stamped with now.
func New(ownerID string, now time.Time) *Builder {
	return &Builder{rec: Record{
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Tags:      MergeTags(nil),
		Version:   1,
	}}
}

// FromTemplate copies t and applies every derived-field transform.
func (b *Builder) FromTemplate(t Template) *Builder {
	b.rec.Description = t.Description
	b.rec.ItemType = t.ItemType
	b.rec.Price = t.Price
	b.rec.DownloadURL = t.DownloadURL
	b.rec.FileSize = t.FileSize
	b.rec.DurationHours = t.DurationHours
	if t.Dimensions != nil {
		d := *t.Dimensions
		b.rec.Dimensions = &d
	}
	if t.Weight != 0 {
		w := int(t.Weight)
		b.rec.Weight = &w
	}
	if t.Name != "" {
		b.WithName(t.Name)
	}
	if t.Category != "" {
		b.WithCategory(t.Category)
	}
	b.rec.IsActive = t.Active()
	return b.WithTags(t.Tags)
}

// WithName sets the owned name and its derived fields.
func (b *Builder) WithName(name string) *Builder {
	full := OwnedName(name, b.rec.CreatedBy)
	b.rec.Name = full
	b.rec.NormalizedName = NormalizeName(full)
	b.rec.NormalizedNamePrefix = NamePrefix(full)
	return b
}

// WithCategory sets the category and its normalized form.
func (b *Builder) WithCategory(category string) *Builder {
	b.rec.Category = category
	b.rec.NormalizedCategory = NormalizeCategory(category)
	return b
}

// WithPrice sets the price.
func (b *Builder) WithPrice(price float64) *Builder {
	b.rec.Price = price
	return b
}

// WithTags replaces the tags; DefaultTags are always kept.
func (b *Builder) WithTags(tags []string) *Builder {
	b.rec.Tags = MergeTags(tags)
	return b
}

// WithActive sets the activity flag.
func (b *Builder) WithActive(active bool) *Builder {
	b.rec.IsActive = active
	return b
}

// Build returns the record or a *ValidationError.
func (b *Builder) Build() (Record, error) {
	var missing []string
	if b.rec.Name == "" {
		missing = append(missing, "name")
	}
	if b.rec.CreatedBy == "" {
		missing = append(missing, "created_by")
	}
	if b.rec.NormalizedName == "" {
		missing = append(missing, "normalizedName")
	}
	if len(missing) > 0 {
		return Record{}, &ValidationError{Missing: missing}
	}
	rec := b.rec
	rec.Tags = append([]string(nil), b.rec.Tags...)
	return rec, nil
}

// BuildMany builds every template for ownerID with one shared timestamp.
func BuildMany(templates []Template, ownerID string, now time.Time) ([]Record, error) {
	out := make([]Record, 0, len(templates))
	for _, t := range templates {
		rec, err := New(ownerID, now).FromTemplate(t).Build()
		if err != nil {
			return nil, fmt.Errorf("build %q: %w", t.Name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
