package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().APIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.GetLockTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://api.example.com
state_dir: /tmp/h
lock_timeout: 5s
seed_users: [editor9@test.com]
browser:
  headless: false
logging:
  level: debug
  categories:
    browser: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, "http://localhost:3000", cfg.FrontendBaseURL, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.GetLockTimeout())
	assert.Equal(t, []string{"editor9@test.com"}, cfg.SeedUsers)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/tmp/h/users.json", cfg.PoolPath())
	assert.Equal(t, "/tmp/h/auth", cfg.CredentialDir())
	assert.False(t, cfg.Logging.CategoryEnabled("browser"))
	assert.True(t, cfg.Logging.CategoryEnabled("lease"))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: [unterminated"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("urls and secrets", func(t *testing.T) {
		t.Setenv("API_BASE_URL", "http://api:4000")
		t.Setenv("FRONTEND_BASE_URL", "http://web:4001")
		t.Setenv("INTERNAL_AUTOMATION_KEY", "k")
		t.Setenv("MONGODB_URI", "mongodb://db")
		t.Setenv("MONGODB_DB_NAME", "flowhub")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://api:4000", cfg.APIBaseURL)
		assert.Equal(t, "http://web:4001", cfg.FrontendBaseURL)
		assert.Equal(t, "k", cfg.InternalAutomationSecret)
		assert.Equal(t, "mongodb://db", cfg.MongoDBURI)
		assert.Equal(t, "flowhub", cfg.MongoDBName)
	})

	t.Run("boolean flags", func(t *testing.T) {
		t.Setenv("ENABLE_SEED_SETUP", "true")
		t.Setenv("ENABLE_API_SEED_SETUP", "false")
		t.Setenv("HEADLESS", "0")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.EnableGlobalSeed)
		assert.False(t, cfg.EnableAPISeed)
		assert.False(t, cfg.Browser.Headless)
	})

	t.Run("unparsable boolean is ignored", func(t *testing.T) {
		t.Setenv("ENABLE_API_SEED_SETUP", "maybe")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.EnableAPISeed)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative api url", func(c *Config) { c.APIBaseURL = "/api" }, "api_base_url"},
		{"missing pool", func(c *Config) { c.PoolFile = "" }, "pool_file"},
		{"missing reservation file", func(c *Config) { c.ReservationFile = "" }, "reservation_file"},
		{"missing lock file", func(c *Config) { c.LockFile = "" }, "lock_file"},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = "0s" }, "lock_timeout"},
		{"huge lock timeout", func(c *Config) { c.LockTimeout = "2m" }, "lock_timeout"},
		{"global seed without mongo", func(c *Config) { c.EnableGlobalSeed = true }, "mongodb_uri"},
		{"cleanup without secret or store", func(c *Config) { c.EnableDirectStoreCleanup = true }, "internal_automation_secret"},
		{"cleanup with half a store", func(c *Config) {
			c.EnableDirectStoreCleanup = true
			c.MongoDBURI = "mongodb://db"
		}, "mongodb_db_name"},
		{"negative rate", func(c *Config) { c.APIRateLimit = -1 }, "api_rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCleanupIsOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.EnableDirectStoreCleanup)
	assert.ErrorIs(t, cfg.CheckCleanup(false), ErrConfig)
	assert.ErrorIs(t, cfg.CheckCleanup(true), ErrConfig)
}

func TestCheckCleanup(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		store    bool
		viaStore bool
		wantErr  string
	}{
		{"api with secret", "k", false, false, ""},
		{"api without secret", "", true, false, "internal_automation_secret"},
		{"store configured", "", true, true, ""},
		{"store missing", "k", false, true, "mongodb_uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.EnableDirectStoreCleanup = true
			cfg.InternalAutomationSecret = tt.secret
			if tt.store {
				cfg.MongoDBURI, cfg.MongoDBName = "mongodb://db", "items"
			}
			require.NoError(t, cfg.Validate())

			err := cfg.CheckCleanup(tt.viaStore)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "harness.yaml")
	cfg := DefaultConfig()
	cfg.SeedUsers = []string{"a@test.com"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SeedUsers, loaded.SeedUsers)
}
