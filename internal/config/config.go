// Package config holds the harness configuration: a YAML file, then
// environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks missing or invalid configuration.
var ErrConfig = errors.New("config error")

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "harness.yaml"

// MaxLockTimeout bounds lock_timeout.
const MaxLockTimeout = 60 * time.Second

// Config holds all harness configuration.
type Config struct {
	// Endpoints
	APIBaseURL      string `yaml:"api_base_url"`
	FrontendBaseURL string `yaml:"frontend_base_url"`

	// Shared state between workers
	StateDir        string `yaml:"state_dir"`
	PoolFile        string `yaml:"pool_file"`
	ReservationFile string `yaml:"reservation_file"`
	LockFile        string `yaml:"lock_file"`
	LockTimeout     string `yaml:"lock_timeout"`

	// API client
	HTTPTimeout  string  `yaml:"http_timeout"`
	APIRateLimit float64 `yaml:"api_rate_limit"` // requests per second, 0 = unlimited

	// Seeding and cleanup
	EnableGlobalSeed         bool     `yaml:"enable_global_seed"`
	EnableAPISeed            bool     `yaml:"enable_api_seed"`
	EnableDirectStoreCleanup bool     `yaml:"enable_direct_store_cleanup"`
	InternalAutomationSecret string   `yaml:"internal_automation_secret"`
	SeedUsers                []string `yaml:"seed_users"`
	SeedConcurrency          int      `yaml:"seed_concurrency"`

	// Direct store
	MongoDBURI  string `yaml:"mongodb_uri"`
	MongoDBName string `yaml:"mongodb_db_name"`

	Browser BrowserConfig `yaml:"browser"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the browser gateway.
type BrowserConfig struct {
	Headless          bool   `yaml:"headless"`
	Bin               string `yaml:"bin"`         // empty = managed download
	ControlURL        string `yaml:"control_url"` // attach to a running browser
	NavigationTimeout string `yaml:"navigation_timeout"`
	LoginPath         string `yaml:"login_path"`
	SuccessPath       string `yaml:"success_path"`
	ProtectedPath     string `yaml:"protected_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	// Categories disables individual named loggers when set to false.
	Categories map[string]bool `yaml:"categories"`
}

// CategoryEnabled reports whether the named logger should write.
// Categories not listed are enabled.
func (c LoggingConfig) CategoryEnabled(category string) bool {
	enabled, ok := c.Categories[category]
	return !ok || enabled
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:      "http://localhost:3000/api",
		FrontendBaseURL: "http://localhost:3000",

		StateDir:        ".harness",
		PoolFile:        "users.json",
		ReservationFile: "reservations.json",
		LockFile:        "reservations.lock",
		LockTimeout:     "10s",

		HTTPTimeout: "30s",

		EnableAPISeed:   true,
		SeedUsers:       []string{"admin1@test.com", "editor1@test.com", "viewer1@test.com"},
		SeedConcurrency: 4,

		// Cleanup deletes data permanently and must be switched on.
		EnableDirectStoreCleanup: false,

		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: "30s",
			LoginPath:         "/login",
			SuccessPath:       "/dashboard",
			ProtectedPath:     "/dashboard",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("FRONTEND_BASE_URL"); v != "" {
		c.FrontendBaseURL = v
	}
	if v := os.Getenv("HARNESS_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v, ok := envBool("ENABLE_SEED_SETUP"); ok {
		c.EnableGlobalSeed = v
	}
	if v, ok := envBool("ENABLE_API_SEED_SETUP"); ok {
		c.EnableAPISeed = v
	}
	if v, ok := envBool("ENABLE_DIRECT_STORE_CLEANUP"); ok {
		c.EnableDirectStoreCleanup = v
	}
	if v := os.Getenv("INTERNAL_AUTOMATION_KEY"); v != "" {
		c.InternalAutomationSecret = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.MongoDBURI = v
	}
	if v := os.Getenv("MONGODB_DB_NAME"); v != "" {
		c.MongoDBName = v
	}
	if v, ok := envBool("HEADLESS"); ok {
		c.Browser.Headless = v
	}
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{
		"api_base_url":      c.APIBaseURL,
		"frontend_base_url": c.FrontendBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	for name, v := range map[string]string{
		"pool_file":        c.PoolFile,
		"reservation_file": c.ReservationFile,
		"lock_file":        c.LockFile,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if lt, err := time.ParseDuration(c.LockTimeout); err != nil || lt <= 0 || lt > MaxLockTimeout {
		errs = append(errs, fmt.Errorf("lock_timeout must be a duration in (0, %s], got %q", MaxLockTimeout, c.LockTimeout))
	}
	if _, err := time.ParseDuration(c.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Errorf("http_timeout: %v", err))
	}
	if c.APIRateLimit < 0 {
		errs = append(errs, errors.New("api_rate_limit must not be negative"))
	}
	if c.EnableGlobalSeed && !c.HasStore() {
		errs = append(errs, errors.New("enable_global_seed requires mongodb_uri and mongodb_db_name"))
	}
	if c.EnableDirectStoreCleanup && c.InternalAutomationSecret == "" && !c.HasStore() {
		errs = append(errs, errors.New("enable_direct_store_cleanup requires internal_automation_secret or mongodb_uri and mongodb_db_name"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// HasStore reports whether the direct store is configured.
func (c *Config) HasStore() bool {
	return c.MongoDBURI != "" && c.MongoDBName != ""
}

// CheckCleanup reports whether destructive cleanup may run. Cleanup through
// the internal endpoints needs the automation secret; cleanup through the
// direct store needs the store settings.
func (c *Config) CheckCleanup(viaStore bool) error {
	switch {
	case !c.EnableDirectStoreCleanup:
		return fmt.Errorf("%w: cleanup is disabled (enable_direct_store_cleanup)", ErrConfig)
	case viaStore && !c.HasStore():
		return fmt.Errorf("%w: store cleanup requires mongodb_uri and mongodb_db_name", ErrConfig)
	case !viaStore && c.InternalAutomationSecret == "":
		return fmt.Errorf("%w: cleanup requires internal_automation_secret", ErrConfig)
	}
	return nil
}

// GetLockTimeout returns lock_timeout, or 10s when unparsable.
func (c *Config) GetLockTimeout() time.Duration {
	return parseDurationOr(c.LockTimeout, 10*time.Second)
}

// GetHTTPTimeout returns http_timeout, or 30s when unparsable.
func (c *Config) GetHTTPTimeout() time.Duration {
	return parseDurationOr(c.HTTPTimeout, 30*time.Second)
}

// GetNavigationTimeout returns browser.navigation_timeout, or 30s.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDurationOr(c.Browser.NavigationTimeout, 30*time.Second)
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PoolPath is the pool file, resolved against StateDir when relative.
func (c *Config) PoolPath() string { return c.resolve(c.PoolFile) }

// ReservationPath is the reservation table file.
func (c *Config) ReservationPath() string { return c.resolve(c.ReservationFile) }

// LockPath is the lock file guarding the reservation table.
func (c *Config) LockPath() string { return c.resolve(c.LockFile) }

// CredentialDir holds cached tokens and storage states.
func (c *Config) CredentialDir() string { return filepath.Join(c.StateDir, "auth") }

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StateDir, p)
}
