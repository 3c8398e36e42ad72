// Package browser drives a Chrome instance through go-rod to log in through
// the web UI and to capture and restore browser storage state.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Selectors locate the login form.
type Selectors struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Submit   string `yaml:"submit"`
}

// Config holds browser configuration.
type Config struct {
	// ControlURL attaches to a running Chrome instead of launching one.
	ControlURL string
	// Bin is the Chrome binary; empty lets the launcher find or fetch one.
	Bin   string
	Flags []string

	Headless          bool
	NavigationTimeout time.Duration

	// FrontendURL is the web UI root.
	FrontendURL   string
	LoginPath     string
	SuccessPath   string
	ProtectedPath string
	Selectors     Selectors

	// SettleWindow is how long a restored session is watched for a
	// client-side redirect to the login page.
	SettleWindow time.Duration
}

// DefaultConfig returns sensible defaults for frontendURL.
func DefaultConfig(frontendURL string) Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		FrontendURL:       frontendURL,
		LoginPath:         "/login",
		SuccessPath:       "/dashboard",
		ProtectedPath:     "/dashboard",
		Selectors: Selectors{
			Email:    `[data-testid="login-email"]`,
			Password: `[data-testid="login-password"]`,
			Submit:   `[data-testid="login-submit"]`,
		},
		SettleWindow: 1500 * time.Millisecond,
	}
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

func (c Config) pageURL(path string) string {
	return strings.TrimRight(c.FrontendURL, "/") + path
}

// Manager owns the Chrome process. Each Session runs in its own incognito
// context so sessions never share cookies.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   *launcher.Launcher
}

// NewManager creates a manager; Start must be called before use.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		for _, raw := range m.cfg.Flags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		m.launched = l
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = b
	m.controlURL = controlURL
	m.logger.Debug("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser, nil
}

// Shutdown closes the browser and, if this manager launched it, cleans up
// the launcher's profile directory.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.launched != nil {
		m.launched.Cleanup()
		m.launched = nil
	}
	m.controlURL = ""
	return err
}

// NewSession opens an incognito context, restores state into it when state
// is non-nil and returns a session on a blank page.
func (m *Manager) NewSession(ctx context.Context, state *StorageState) (*Session, error) {
	b, err := m.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &Session{cfg: m.cfg, context: incognito, page: page, logger: m.logger}
	if state != nil {
		if err := s.restore(ctx, *state); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Session is one page in an isolated browser context.
type Session struct {
	cfg     Config
	context *rod.Browser
	page    *rod.Page
	logger  *zap.Logger
	closed  bool
}

// Page exposes the underlying rod page.
func (s *Session) Page() *rod.Page { return s.page }

// Close disposes of the browser context. Calling it twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.context.Close()
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.cfg.navigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// URL returns the current page URL.
func (s *Session) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// WaitSelector waits until selector matches an element.
func (s *Session) WaitSelector(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := s.page.Context(ctx).Timeout(s.cfg.navigationTimeout()).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", selector, err)
	}
	return el, nil
}

// Fill replaces the value of the input matched by selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	el, err := s.WaitSelector(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matched by selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.WaitSelector(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// WaitURL polls the page URL until match accepts it or the navigation
// timeout elapses.
func (s *Session) WaitURL(ctx context.Context, match func(string) bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.navigationTimeout())
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var last string
	for {
		if u, err := s.URL(); err == nil {
			last = u
			if match(u) {
				return u, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for url (last %s): %w", last, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CaptureState snapshots the context's cookies and the localStorage of the
// current page's origin.
func (s *Session) CaptureState(ctx context.Context) (StorageState, error) {
	cookies, err := s.context.GetCookies()
	if err != nil {
		return StorageState{}, fmt.Errorf("get cookies: %w", err)
	}
	state := StorageState{Cookies: fromNetworkCookies(cookies), Origins: []OriginState{}}

	u, err := s.URL()
	if err != nil {
		return StorageState{}, err
	}
	origin, err := originOf(u)
	if err != nil {
		return state, nil
	}
	entries, err := s.snapshotLocalStorage(ctx)
	if err != nil {
		return StorageState{}, err
	}
	if len(entries) > 0 {
		state.Origins = append(state.Origins, OriginState{Origin: origin, LocalStorage: entries})
	}
	return state, nil
}

func (s *Session) restore(ctx context.Context, state StorageState) error {
	if len(state.Cookies) > 0 {
		if err := s.context.SetCookies(cookieParams(state.Cookies)); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}
	// localStorage is per origin, so each origin has to be visited once.
	for _, o := range state.Origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		if err := s.Navigate(ctx, o.Origin); err != nil {
			return fmt.Errorf("restore storage for %s: %w", o.Origin, err)
		}
		if err := s.restoreLocalStorage(ctx, o.LocalStorage); err != nil {
			return fmt.Errorf("restore storage for %s: %w", o.Origin, err)
		}
	}
	return nil
}

func (s *Session) snapshotLocalStorage(ctx context.Context) ([]NameValue, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `() => {
			try {
				const out = [];
				for (let i = 0; i < localStorage.length; i++) {
					const k = localStorage.key(i);
					out.push({name: k, value: localStorage.getItem(k)});
				}
				return JSON.stringify(out);
			} catch (e) {
				return "[]";
			}
		}`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read localStorage: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	var entries []NameValue
	if err := json.Unmarshal([]byte(res.Value.String()), &entries); err != nil {
		return nil, fmt.Errorf("decode localStorage: %w", err)
	}
	return entries, nil
}

func (s *Session) restoreLocalStorage(ctx context.Context, entries []NameValue) error {
	_, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `(entries) => {
			for (const e of entries) {
				localStorage.setItem(e.name, e.value);
			}
		}`,
		JSArgs:       []interface{}{entries},
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	return err
}
