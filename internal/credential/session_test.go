package credential

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemharness/internal/browser"
	"itemharness/internal/pool"
)

// stubGateway accepts states whose "sid" cookie is in valid.
type stubGateway struct {
	valid       map[string]bool
	validateErr error
	loginErr    error
	logins      int
	validations int
}

func (g *stubGateway) ValidateState(_ context.Context, s browser.StorageState) (bool, error) {
	g.validations++
	if g.validateErr != nil {
		return false, g.validateErr
	}
	for _, c := range s.Cookies {
		if c.Name == "sid" && g.valid[c.Value] {
			return true, nil
		}
	}
	return false, nil
}

func (g *stubGateway) Login(_ context.Context, email, _ string) (browser.StorageState, error) {
	g.logins++
	if g.loginErr != nil {
		return browser.StorageState{}, g.loginErr
	}
	sid := email + "-fresh"
	g.valid[sid] = true
	return browser.StorageState{
		Cookies: []browser.Cookie{{Name: "sid", Value: sid, Domain: "localhost", Path: "/", Expires: -1}},
		Origins: []browser.OriginState{},
	}, nil
}

var editor = pool.Identity{Email: "editor1@test.com", Password: "pw", Role: pool.RoleEditor}

func writeState(t *testing.T, c *SessionCache, sid string) string {
	t.Helper()
	path, err := c.Path(editor.Email)
	require.NoError(t, err)
	data, err := json.Marshal(browser.StorageState{Cookies: []browser.Cookie{{Name: "sid", Value: sid}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestSessionColdStartLogsIn(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{}}
	c := NewSessionCache(t.TempDir(), gw)

	path, reused, err := c.StorageState(context.Background(), editor)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, gw.logins)
	assert.Equal(t, 0, gw.validations)

	st, err := browser.ReadStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, "editor1@test.com-fresh", st.Cookies[0].Value)
}

func TestSessionValidStateIsReused(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{"good": true}}
	c := NewSessionCache(t.TempDir(), gw)
	want := writeState(t, c, "good")

	path, reused, err := c.StorageState(context.Background(), editor)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, want, path)
	assert.Equal(t, 0, gw.logins)
}

func TestSessionExpiredStateIsReplaced(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{}}
	c := NewSessionCache(t.TempDir(), gw)
	writeState(t, c, "stale")

	path, reused, err := c.StorageState(context.Background(), editor)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, gw.logins)

	st, err := browser.ReadStateFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", st.Cookies[0].Value)
}

func TestSessionValidationErrorCountsAsInvalid(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{"good": true}, validateErr: errors.New("browser crashed")}
	c := NewSessionCache(t.TempDir(), gw)
	writeState(t, c, "good")

	_, reused, err := c.StorageState(context.Background(), editor)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, gw.logins)
}

func TestSessionCorruptStateIsDeleted(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{}, loginErr: errors.New("form missing")}
	c := NewSessionCache(t.TempDir(), gw)
	path, _ := c.Path(editor.Email)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, _, err := c.StorageState(context.Background(), editor)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 0, gw.validations, "corrupt file is never validated")
	assert.NoFileExists(t, path, "no stale file may be left behind")
}

func TestSessionEmptyStateIsNeverValidated(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{}}
	c := NewSessionCache(t.TempDir(), gw)
	path, _ := c.Path(editor.Email)
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[],"origins":[]}`), 0o600))

	got, reused, err := c.StorageState(context.Background(), editor)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, path, got)
	assert.Equal(t, 0, gw.validations)
	assert.Equal(t, 1, gw.logins)

	st, err := browser.ReadStateFile(path)
	require.NoError(t, err)
	assert.False(t, st.Empty())
}

func TestSessionFailedLoginLeavesNoFile(t *testing.T) {
	gw := &stubGateway{valid: map[string]bool{}, loginErr: errors.New("bad password")}
	c := NewSessionCache(t.TempDir(), gw)
	path := writeState(t, c, "stale")

	_, _, err := c.StorageState(context.Background(), editor)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, editor.Email, ae.Email)
	assert.NoFileExists(t, path)
}
