// Package testutil provides an in-memory stand-in for the item-management
// backend, served over httptest.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InternalKey is the automation secret the fake backend accepts.
const InternalKey = "test-internal-key"

var signingKey = []byte("fake-backend-signing-key")

// FakeUser is an account known to the fake backend.
type FakeUser struct {
	ID       string
	Email    string
	Password string
	Role     string
}

// FakeItem is an item stored by the fake backend.
type FakeItem struct {
	ID          string         `json:"_id"`
	Name        string         `json:"name"`
	Category    string         `json:"category,omitempty"`
	ItemType    string         `json:"item_type,omitempty"`
	Price       float64        `json:"price"`
	Tags        []string       `json:"tags,omitempty"`
	IsActive    bool           `json:"is_active"`
	Version     int            `json:"version"`
	CreatedBy   string         `json:"created_by"`
	NormCat     string         `json:"normalizedCategory,omitempty"`
	NormName    string         `json:"normalizedName,omitempty"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"-"`
}

// FakeBackend implements the REST contract of the item API in memory.
// Item names are unique across all owners and soft-deleted items keep
// their name, like the real backend's unique index.
type FakeBackend struct {
	Server *httptest.Server

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// BeforeCreate, when set, runs under no lock before a create is
	// processed. Tests use it to inject a concurrent writer.
	BeforeCreate func(ownerID, name string)

	mu      sync.Mutex
	users   map[string]*FakeUser // by email
	items   map[string]*FakeItem // by id
	order   []string             // item ids in creation order
	issued  []string             // token ids
	revoked map[string]bool      // by token id
	calls   map[string]int
}

// NewFakeBackend starts a fake backend that is closed when t ends.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		TokenTTL: time.Hour,
		users:    map[string]*FakeUser{},
		items:    map[string]*FakeItem{},
		revoked:  map[string]bool{},
		calls:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("GET /auth/me", f.authed(f.handleMe))
	mux.HandleFunc("GET /items", f.authed(f.handleList))
	mux.HandleFunc("POST /items", f.authed(f.handleCreate))
	mux.HandleFunc("GET /items/{id}", f.authed(f.handleGet))
	mux.HandleFunc("PUT /items/{id}", f.authed(f.handleUpdate))
	mux.HandleFunc("PATCH /items/{id}/activate", f.authed(f.handleActivate))
	mux.HandleFunc("DELETE /items/{id}", f.authed(f.handleSoftDelete))
	mux.HandleFunc("DELETE /internal/items/{id}/permanent", f.internal(f.handlePermanentDelete))
	mux.HandleFunc("DELETE /internal/users/{id}/items", f.internal(f.handleDeleteUserItems))
	mux.HandleFunc("DELETE /internal/users/{id}/data", f.internal(f.handleDeleteUserItems))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API root.
func (f *FakeBackend) URL() string { return f.Server.URL }

// AddUser registers an account with a random 24-character id.
func (f *FakeBackend) AddUser(email, password, role string) *FakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &FakeUser{
		ID:       strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Email:    email,
		Password: password,
		Role:     role,
	}
	f.users[strings.ToLower(email)] = u
	return u
}

// AddUserWithID registers an account with a fixed id.
func (f *FakeBackend) AddUserWithID(id, email, password, role string) *FakeUser {
	u := f.AddUser(email, password, role)
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = id
	return u
}

// User returns a registered account.
func (f *FakeBackend) User(email string) *FakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[strings.ToLower(email)]
}

// PutItem stores an item directly, bypassing validation.
func (f *FakeBackend) PutItem(ownerID, name string, active bool) *FakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(&FakeItem{Name: name, CreatedBy: ownerID, IsActive: active})
}

func (f *FakeBackend) putLocked(it *FakeItem) *FakeItem {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Version == 0 {
		it.Version = 1
	}
	f.items[it.ID] = it
	f.order = append(f.order, it.ID)
	return it
}

// Items returns copies of the items owned by ownerID in creation order.
func (f *FakeBackend) Items(ownerID string) []FakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeItem
	for _, id := range f.order {
		it, ok := f.items[id]
		if ok && it.CreatedBy == ownerID {
			out = append(out, *it)
		}
	}
	return out
}

// ActiveNames returns the names of ownerID's active items, sorted.
func (f *FakeBackend) ActiveNames(ownerID string) []string {
	var names []string
	for _, it := range f.Items(ownerID) {
		if it.IsActive {
			names = append(names, it.Name)
		}
	}
	sort.Strings(names)
	return names
}

// SoftDelete marks an item of ownerID inactive by name.
func (f *FakeBackend) SoftDelete(ownerID, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.CreatedBy == ownerID && it.Name == name {
			it.IsActive = false
			return true
		}
	}
	return false
}

// RevokeAllTokens invalidates every token issued so far.
func (f *FakeBackend) RevokeAllTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.issued {
		f.revoked[id] = true
	}
}

// Calls returns how often an endpoint was hit, keyed like "POST /auth/login".
func (f *FakeBackend) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// IssueToken signs a token for email that expires after ttl. A negative ttl
// produces an already-expired token.
func (f *FakeBackend) IssueToken(email string, ttl time.Duration) string {
	u := f.User(email)
	if u == nil {
		panic("unknown user " + email)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.issued = append(f.issued, claims.ID)
	f.mu.Unlock()
	return signed
}

func (f *FakeBackend) count(r *http.Request, pattern string) {
	f.mu.Lock()
	f.calls[r.Method+" "+pattern]++
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func userJSON(u *FakeUser) map[string]string {
	return map[string]string{"_id": u.ID, "email": u.Email, "role": u.Role}
}

func (f *FakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.count(r, "/auth/login")
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	u := f.User(body.Email)
	if u == nil || u.Password != body.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": f.IssueToken(u.Email, f.TokenTTL),
		"user":  userJSON(u),
	})
}

func (f *FakeBackend) authed(h func(http.ResponseWriter, *http.Request, *FakeUser)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return signingKey, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		f.mu.Lock()
		revoked := f.revoked[claims.ID]
		var u *FakeUser
		for _, cand := range f.users {
			if cand.ID == claims.Subject {
				u = cand
			}
		}
		f.mu.Unlock()

		if revoked {
			writeError(w, http.StatusUnauthorized, "token revoked")
			return
		}
		if u == nil {
			writeError(w, http.StatusUnauthorized, "unknown subject")
			return
		}
		h(w, r, u)
	}
}

func (f *FakeBackend) internal(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-internal-key") != InternalKey {
			writeError(w, http.StatusForbidden, "bad internal key")
			return
		}
		h(w, r)
	}
}

func (f *FakeBackend) handleMe(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/auth/me")
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": userJSON(u)})
}

func (f *FakeBackend) handleList(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items")
	q := r.URL.Query()
	wantActive := q.Get("status") != "inactive"
	search := strings.ToLower(q.Get("search"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	var matched []FakeItem
	for _, it := range f.Items(u.ID) {
		if it.IsActive != wantActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.Name), search) {
			continue
		}
		matched = append(matched, it)
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	pageItems := matched[start:end]
	if pageItems == nil {
		pageItems = []FakeItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      pageItems,
		"pagination": map[string]int{"total": len(matched), "page": page, "limit": limit},
	})
}

func (f *FakeBackend) handleCreate(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items")
	if strings.EqualFold(u.Role, "VIEWER") {
		writeError(w, http.StatusForbidden, "viewers cannot create items")
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	name, _ := body["name"].(string)
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if f.BeforeCreate != nil {
		f.BeforeCreate(u.ID, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if strings.EqualFold(it.Name, name) {
			writeError(w, http.StatusConflict, fmt.Sprintf("item %q already exists", name))
			return
		}
	}
	it := &FakeItem{
		Name:      name,
		CreatedBy: u.ID,
		IsActive:  true,
		Extra:     body,
	}
	if v, ok := body["is_active"].(bool); ok {
		it.IsActive = v
	}
	it.Category, _ = body["category"].(string)
	it.ItemType, _ = body["item_type"].(string)
	it.Description, _ = body["description"].(string)
	it.Price, _ = body["price"].(float64)
	if tags, ok := body["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				it.Tags = append(it.Tags, s)
			}
		}
	}
	it.NormName = strings.ToLower(strings.Join(strings.Fields(name), " "))
	it.NormCat = titleCase(it.Category)
	f.putLocked(it)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "data": *it})
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func (f *FakeBackend) owned(w http.ResponseWriter, r *http.Request, u *FakeUser) *FakeItem {
	it, ok := f.items[r.PathValue("id")]
	if !ok || it.CreatedBy != u.ID {
		writeError(w, http.StatusNotFound, "item not found")
		return nil
	}
	return it
}

func (f *FakeBackend) handleGet(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items/{id}")
	f.mu.Lock()
	defer f.mu.Unlock()
	if it := f.owned(w, r, u); it != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": *it})
	}
}

func (f *FakeBackend) handleUpdate(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items/{id}")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.owned(w, r, u)
	if it == nil {
		return
	}
	if v, _ := body["version"].(float64); int(v) != it.Version {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "error", "current_version": it.Version})
		return
	}
	if name, ok := body["name"].(string); ok {
		it.Name = name
	}
	if price, ok := body["price"].(float64); ok {
		it.Price = price
	}
	it.Version++
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": *it})
}

func (f *FakeBackend) handleActivate(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items/{id}/activate")
	f.mu.Lock()
	defer f.mu.Unlock()
	if it := f.owned(w, r, u); it != nil {
		it.IsActive = true
		it.Version++
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": *it})
	}
}

func (f *FakeBackend) handleSoftDelete(w http.ResponseWriter, r *http.Request, u *FakeUser) {
	f.count(r, "/items/{id}")
	f.mu.Lock()
	defer f.mu.Unlock()
	if it := f.owned(w, r, u); it != nil {
		it.IsActive = false
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
	}
}

func (f *FakeBackend) handlePermanentDelete(w http.ResponseWriter, r *http.Request) {
	f.count(r, "/internal/items/{id}/permanent")
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := f.items[id]; !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	delete(f.items, id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": 1})
}

func (f *FakeBackend) handleDeleteUserItems(w http.ResponseWriter, r *http.Request) {
	f.count(r, "/internal/users/{id}")
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := r.PathValue("id")
	n := 0
	for id, it := range f.items {
		if it.CreatedBy == owner {
			delete(f.items, id)
			n++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": n})
}
