package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"itemharness/internal/lease"
	"itemharness/internal/pool"
	"itemharness/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const poolJSON = `{
  "ADMIN":  [{"email": "admin1@test.com",  "password": "pw"}],
  "EDITOR": [{"email": "editor1@test.com", "password": "pw"}],
  "VIEWER": [{"email": "viewer1@test.com", "password": "pw"}]
}`

type env struct {
	backend *testutil.FakeBackend
	dir     string
	config  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv(lease.WorkerIDEnv, "gw0")

	backend := testutil.NewFakeBackend(t)
	backend.AddUserWithID("6958191f2c1d4e5a9b7c0a01", "admin1@test.com", "pw", "ADMIN")
	backend.AddUserWithID("6958191f2c1d4e5a9b7c0e01", "editor1@test.com", "pw", "EDITOR")
	backend.AddUserWithID("6958191f2c1d4e5a9b7c0f01", "viewer1@test.com", "pw", "VIEWER")

	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(state, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(state, "users.json"), []byte(poolJSON), 0o644))

	cfgPath := filepath.Join(dir, "harness.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
api_base_url: `+backend.URL()+`
state_dir: `+state+`
lock_timeout: 2s
enable_api_seed: true
internal_automation_secret: `+testutil.InternalKey+`
enable_direct_store_cleanup: true
seed_users: [editor1@test.com, viewer1@test.com]
logging:
  level: error
`), 0o644))
	return &env{backend: backend, dir: dir, config: cfgPath}
}

// run executes one CLI invocation and returns its stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLeaseStatusRelease(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "lease", "--role", "editor")
	require.NoError(t, err)
	assert.Equal(t, "editor1@test.com\n", out)

	_, err = e.run(t, "lease", "--role", "EDITOR")
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)

	out, err = e.run(t, "status")
	require.NoError(t, err)
	header, table, ok := strings.Cut(out, "\n\n")
	require.True(t, ok)
	assert.Contains(t, header, filepath.Join(e.dir, "state", "users.json"))
	assert.Contains(t, header, filepath.Join(e.dir, "state", "reservations.json"))
	lines := strings.Split(strings.TrimSpace(table), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "HOLDER")
	assert.Regexp(t, `EDITOR\s+editor1@test.com\s+\S+`, lines[2])
	assert.NotRegexp(t, `\s-$`, lines[2])
	assert.Regexp(t, `VIEWER\s+viewer1@test.com\s+-`, lines[3])

	out, err = e.run(t, "release", "--email", "editor1@test.com")
	require.NoError(t, err)
	assert.Equal(t, "Released editor1@test.com\n", out)

	out, err = e.run(t, "release", "--email", "editor1@test.com")
	require.NoError(t, err)
	assert.Contains(t, out, "was not reserved")
}

func TestRollCallClearsReservations(t *testing.T) {
	e := newEnv(t)
	for _, role := range []string{"admin", "viewer"} {
		_, err := e.run(t, "lease", "--role", role)
		require.NoError(t, err)
	}

	out, err := e.run(t, "rollcall")
	require.NoError(t, err)
	assert.Equal(t, "Cleared 2 reservation(s)\n", out)

	out, err = e.run(t, "lease", "--role", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin1@test.com\n", out)
}

func TestLeaseRejectsUnknownRole(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "lease", "--role", "owner")
	assert.Error(t, err)
}

func TestAuthReusesCachedToken(t *testing.T) {
	e := newEnv(t)

	first, err := e.run(t, "auth", "--email", "viewer1@test.com")
	require.NoError(t, err)
	second, err := e.run(t, "auth", "--email", "viewer1@test.com")
	require.NoError(t, err)

	assert.NotEmpty(t, strings.TrimSpace(first))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.backend.Calls("POST /auth/login"))

	_, err = e.run(t, "auth", "--email", "viewer1@test.com", "--fresh")
	require.NoError(t, err)
	assert.Equal(t, 2, e.backend.Calls("POST /auth/login"))
}

func TestAuthUnknownEmail(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "auth", "--email", "nobody@test.com")
	assert.ErrorContains(t, err, "not in the identity pool")
}

func TestSeedThroughAPI(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "editor1@test.com: created 11")
	assert.Contains(t, out, "viewer1@test.com: read-only role, skipped")
	assert.Len(t, e.backend.ActiveNames("6958191f2c1d4e5a9b7c0e01"), 9)

	out, err = e.run(t, "seed", "--email", "editor1@test.com")
	require.NoError(t, err)
	assert.Contains(t, out, "created 0, reactivated 0, present 11")
}

func TestSetupRunsSeedingAndWritesMetrics(t *testing.T) {
	e := newEnv(t)
	t.Setenv(lease.WorkerIDEnv, "")
	metricsPath := filepath.Join(e.dir, "harness.prom")

	out, err := e.run(t, "--metrics-textfile", metricsPath, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "roll call: cleared 0 reservation(s)")
	assert.Contains(t, out, "api editor1@test.com: created 11")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `itemharness_seed_outcomes_total{state="created"} 11`)
}

func TestCleanupItems(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "seed", "--email", "editor1@test.com")
	require.NoError(t, err)

	out, err := e.run(t, "cleanup", "--email", "editor1@test.com")
	require.NoError(t, err)
	assert.Equal(t, "Deleted all items of editor1@test.com\n", out)
	assert.Empty(t, e.backend.Items("6958191f2c1d4e5a9b7c0e01"))
}

func TestCleanupRefusedWhenDisabled(t *testing.T) {
	e := newEnv(t)
	t.Setenv("ENABLE_DIRECT_STORE_CLEANUP", "false")
	_, err := e.run(t, "seed", "--email", "editor1@test.com")
	require.NoError(t, err)

	_, err = e.run(t, "cleanup", "--email", "editor1@test.com")
	assert.ErrorContains(t, err, "enable_direct_store_cleanup")
	assert.Len(t, e.backend.Items("6958191f2c1d4e5a9b7c0e01"), 11)
}

func TestInitWritesConfig(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "init")
	assert.ErrorContains(t, err, "already exists")

	path := filepath.Join(e.dir, "fresh.yaml")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", path, "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_base_url: http://localhost:3000/api")
	assert.Contains(t, string(data), "enable_direct_store_cleanup: false")
}

func TestCleanupFlagsAreExclusive(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "cleanup", "--email", "editor1@test.com", "--data", "--mongo")
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.config, []byte("api_base_url: nowhere\n"), 0o644))
	_, err := e.run(t, "status")
	assert.ErrorContains(t, err, "api_base_url")
}
