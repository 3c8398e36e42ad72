package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemharness/internal/testutil"
)

func newTestClient(t *testing.T, backend *testutil.FakeBackend) *Client {
	t.Helper()
	cfg := DefaultConfig(backend.URL())
	cfg.InternalKey = testutil.InternalKey
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(DefaultConfig("not a url"))
	assert.Error(t, err)
}

func TestLoginAndMe(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	u := backend.AddUser("editor1@test.com", "pw", "EDITOR")
	c := newTestClient(t, backend)
	ctx := context.Background()

	res, err := c.Login(ctx, "editor1@test.com", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, u.ID, res.User.ID)

	me, err := c.WithToken(res.Token).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "editor1@test.com", me.Email)

	_, err = c.Me(ctx)
	assert.True(t, IsUnauthorized(err), "unauthenticated client: %v", err)
}

func TestLoginWrongPassword(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	backend.AddUser("editor1@test.com", "pw", "EDITOR")

	_, err := newTestClient(t, backend).Login(context.Background(), "editor1@test.com", "nope")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "/auth/login")
}

func TestItemLifecycle(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	backend.AddUser("admin1@test.com", "pw", "ADMIN")
	ctx := context.Background()
	c := newTestClient(t, backend)
	res, err := c.Login(ctx, "admin1@test.com", "pw")
	require.NoError(t, err)
	c = c.WithToken(res.Token)

	created, err := c.CreateItem(ctx, map[string]any{"name": "Widget", "category": "home", "price": 3.5})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, "Home", created.NormalizedCategory)

	_, err = c.CreateItem(ctx, map[string]any{"name": "Widget"})
	assert.True(t, IsConflict(err))

	updated, err := c.UpdateItem(ctx, created.ID, map[string]any{"price": 4.0}, created.Version)
	require.NoError(t, err)
	assert.Equal(t, 4.0, updated.Price)

	_, err = c.UpdateItem(ctx, created.ID, map[string]any{"price": 5.0}, created.Version)
	assert.True(t, IsConflict(err), "stale version must conflict")

	require.NoError(t, c.DeleteItem(ctx, created.ID))
	inactive, err := c.ListItems(ctx, ListOptions{Status: StatusInactive, Search: "widget"})
	require.NoError(t, err)
	require.Len(t, inactive.Items, 1)
	assert.Equal(t, 1, inactive.Pagination.Total)

	active, err := c.ActivateItem(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, active.IsActive)

	got, err := c.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)

	require.NoError(t, c.PermanentDeleteItem(ctx, created.ID))
	_, err = c.GetItem(ctx, created.ID)
	assert.True(t, IsNotFound(err))
}

func TestViewerCannotCreate(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	backend.AddUser("viewer1@test.com", "pw", "VIEWER")
	ctx := context.Background()
	c := newTestClient(t, backend)
	res, err := c.Login(ctx, "viewer1@test.com", "pw")
	require.NoError(t, err)

	_, err = c.WithToken(res.Token).CreateItem(ctx, map[string]any{"name": "x"})
	assert.True(t, IsForbidden(err))
}

func TestListAllItemsPages(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	u := backend.AddUser("admin1@test.com", "pw", "ADMIN")
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		backend.PutItem(u.ID, n, true)
	}
	ctx := context.Background()
	c := newTestClient(t, backend)
	res, err := c.Login(ctx, "admin1@test.com", "pw")
	require.NoError(t, err)

	items, err := c.WithToken(res.Token).ListAllItems(ctx, ListOptions{Status: StatusActive, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, 3, backend.Calls("GET /items"))
}

func TestInternalEndpointsNeedKey(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	u := backend.AddUser("admin1@test.com", "pw", "ADMIN")
	backend.PutItem(u.ID, "a", true)
	backend.PutItem(u.ID, "b", false)

	c, err := NewClient(DefaultConfig(backend.URL()))
	require.NoError(t, err)
	err = c.DeleteUserItems(context.Background(), u.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	require.NoError(t, newTestClient(t, backend).DeleteUserItems(context.Background(), u.ID))
	assert.Empty(t, backend.Items(u.ID))
}

func TestRateLimitPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.RateLimit = 20
	c, err := NewClient(cfg)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.DeleteItem(context.Background(), "x"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestUnwrapEnvelope(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(unwrap([]byte(`{"status":"success","data":{"a":1}}`))))
	assert.JSONEq(t, `{"a":1}`, string(unwrap([]byte(`{"a":1}`))))
	assert.JSONEq(t, `{"data":null,"a":1}`, string(unwrap([]byte(`{"data":null,"a":1}`))))
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Method: "POST", Path: "/items", StatusCode: 409, Body: `{"message":"dup"}`}
	assert.Equal(t, `POST /items: 409 Conflict: {"message":"dup"}`, err.Error())
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}
