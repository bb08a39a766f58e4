package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SERVER_ADDR", "DATABASE_URL", "REDIS_URL",
		"GATEWAY_BASE_URL", "GATEWAY_API_KEY", "EVENTS_SQS_QUEUE_URL", "AWS_REGION"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database:\n  url: postgres://localhost/blast\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Gateway.SendTimeout)
	assert.Equal(t, 60*time.Second, cfg.Emergency.SweepInterval)
	assert.Equal(t, 0.05, cfg.Emergency.PauseFailureRate)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.StaleAge)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadReadsYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  url: postgres://localhost/blast
  max_open_conns: 50
redis:
  url: redis://localhost:6379
  enabled: true
emergency:
  min_sample: 40
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 40, cfg.Emergency.MinSample)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.03, cfg.Emergency.WarnFailureRate)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  addr: \":9090\"\ndatabase:\n  url: postgres://file/db\n")
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://env:6379", cfg.Redis.URL)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server: [not a map")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
