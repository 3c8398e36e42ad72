//go:build integration

package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<!doctype html>
<html><body>
<form id="f">
  <input data-testid="login-email" name="email">
  <input data-testid="login-password" name="password" type="password">
  <button data-testid="login-submit" type="submit">Sign in</button>
</form>
<script>
document.getElementById('f').addEventListener('submit', async (ev) => {
  ev.preventDefault();
  const body = new URLSearchParams(new FormData(ev.target));
  const resp = await fetch('/session', {method: 'POST', body});
  if (resp.ok) {
    localStorage.setItem('user', document.querySelector('[name=email]').value);
    location.href = '/dashboard';
  }
});
</script>
</body></html>`

// fakeApp serves a login form and a dashboard that requires a session cookie.
type fakeApp struct {
	mu       sync.Mutex
	sessions map[string]bool
}

func (a *fakeApp) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(loginPage))
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sid := r.FormValue("email") + "-sid"
		a.mu.Lock()
		a.sessions[sid] = true
		a.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: sid, Path: "/", HttpOnly: true})
	})
	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		a.mu.Lock()
		ok := err == nil && a.sessions[c.Value]
		a.mu.Unlock()
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>dashboard</body></html>`))
	})
	return mux
}

func (a *fakeApp) expireAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = map[string]bool{}
}

func TestLoginValidateExpire_Integration(t *testing.T) {
	app := &fakeApp{sessions: map[string]bool{}}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.NavigationTimeout = 15 * time.Second
	cfg.SettleWindow = 300 * time.Millisecond
	m := NewManager(cfg, nil)
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Skipf("chrome not available: %v", err)
	}
	defer m.Shutdown()

	state, err := m.Login(ctx, "editor1@test.com", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, state.Cookies)
	require.Len(t, state.Origins, 1)
	assert.Equal(t, "editor1@test.com", state.Origins[0].LocalStorage[0].Value)

	valid, err := m.ValidateState(ctx, state)
	require.NoError(t, err)
	assert.True(t, valid)

	app.expireAll()
	valid, err = m.ValidateState(ctx, state)
	require.NoError(t, err)
	assert.False(t, valid, "expired session must redirect to login")

	_, err = m.Login(ctx, "editor1@test.com", "wrong")
	assert.Error(t, err)
}
