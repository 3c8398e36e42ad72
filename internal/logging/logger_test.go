package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"itemharness/internal/config"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.log")
	logger, err := New(Options{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("lease acquired", zap.String("email", "editor1@test.com"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"lease acquired"`)
	assert.Contains(t, out, `"email":"editor1@test.com"`)
}

func TestNewVerboseForcesDebug(t *testing.T) {
	logger, err := New(Options{Level: "error", Verbose: true, OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestRegistryNamesAndDisables(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.LoggingConfig{Categories: map[string]bool{"browser": false, "lease": true}}
	r := NewRegistry(zap.New(core), cfg.CategoryEnabled)

	r.Get(CategoryLease).Info("leased")
	r.Get(CategoryBrowser).Info("dropped")
	r.Get(CategorySeed).Info("healed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "lease", entries[0].LoggerName)
	assert.Equal(t, "seed", entries[1].LoggerName)
	assert.Same(t, r.Get(CategoryLease), r.Get(CategoryLease))
}

func TestRegistryWithoutFilterEnablesAll(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(zap.New(core), nil)
	for _, c := range []Category{CategoryLease, CategoryBrowser, CategoryStore} {
		r.Get(c).Info("on")
	}
	assert.Len(t, logs.All(), 3)
}

func TestTimerThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	StartTimer(logger, "roll call").StopWithThreshold(time.Hour)
	timer := StartTimer(logger, "heal")
	timer.start = timer.start.Add(-time.Minute)
	elapsed := timer.StopWithThreshold(time.Second)

	assert.GreaterOrEqual(t, elapsed, time.Minute)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.True(t, strings.HasPrefix(entries[1].Message, "heal"))
}
