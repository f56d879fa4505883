package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate moves the test away from any config.yaml that may exist in
// the working directory or the user's config dir, so Load("") finds
// nothing and falls back to defaults.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "kubectl", cfg.Platform.Kubectl)
	assert.Equal(t, "default", cfg.Platform.Namespace)
	assert.Equal(t, 5*time.Minute, cfg.Rollout.ReadinessTimeout)
	assert.Equal(t, 5*time.Second, cfg.Rollout.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Rollout.ObservationWindow)
	assert.Equal(t, 3, cfg.Rollout.FailureThreshold)
	assert.Equal(t, 10, cfg.Rollout.HistoryRetention)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9090"
platform:
  namespace: staging
rollout:
  readiness_timeout: 10m
  failure_threshold: 5
logging:
  level: debug
  pretty: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "staging", cfg.Platform.Namespace)
	assert.Equal(t, 10*time.Minute, cfg.Rollout.ReadinessTimeout)
	assert.Equal(t, 5, cfg.Rollout.FailureThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)

	// Unset fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Rollout.PollInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("GREENLIGHT_SERVER_LISTEN_ADDR", ":7070")
	t.Setenv("GREENLIGHT_ROLLOUT_DRAIN_GRACE", "1m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, time.Minute, cfg.Rollout.DrainGrace)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Rollout.FailureThreshold = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	assert.Len(t, errs, 2)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.Empty(t, Default().Validate())
}
