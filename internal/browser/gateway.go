package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ValidateState restores state into a fresh context, opens the protected
// page and reports false when the application sends it to the login page.
// The state is valid only if the page stays off the login path for the
// whole settle window, which catches client-side redirects.
func (m *Manager) ValidateState(ctx context.Context, state StorageState) (bool, error) {
	s, err := m.NewSession(ctx, &state)
	if err != nil {
		return false, err
	}
	defer s.Close()

	if err := s.Navigate(ctx, m.cfg.pageURL(m.cfg.ProtectedPath)); err != nil {
		return false, err
	}

	deadline := time.Now().Add(m.cfg.SettleWindow)
	for {
		u, err := s.URL()
		if err != nil {
			return false, err
		}
		if m.isLoginURL(u) {
			m.logger.Debug("stored state redirected to login", zap.String("url", u))
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Login signs in through the login form and returns the resulting state.
func (m *Manager) Login(ctx context.Context, email, password string) (StorageState, error) {
	s, err := m.NewSession(ctx, nil)
	if err != nil {
		return StorageState{}, err
	}
	defer s.Close()

	sel := m.cfg.Selectors
	if err := s.Navigate(ctx, m.cfg.pageURL(m.cfg.LoginPath)); err != nil {
		return StorageState{}, err
	}
	if err := s.Fill(ctx, sel.Email, email); err != nil {
		return StorageState{}, err
	}
	if err := s.Fill(ctx, sel.Password, password); err != nil {
		return StorageState{}, err
	}
	if err := s.Click(ctx, sel.Submit); err != nil {
		return StorageState{}, err
	}

	success := m.cfg.SuccessPath
	if _, err := s.WaitURL(ctx, func(u string) bool { return pathHasPrefix(u, success) }); err != nil {
		return StorageState{}, fmt.Errorf("login for %s did not reach %s: %w", email, success, err)
	}

	state, err := s.CaptureState(ctx)
	if err != nil {
		return StorageState{}, err
	}
	m.logger.Info("browser login complete",
		zap.String("email", email), zap.Int("cookies", len(state.Cookies)))
	return state, nil
}

func (m *Manager) isLoginURL(u string) bool {
	return pathHasPrefix(u, m.cfg.LoginPath)
}

// pathHasPrefix reports whether the path component of raw starts with
// prefix.
func pathHasPrefix(raw, prefix string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, prefix)
}
