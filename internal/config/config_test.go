package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp isolates the test from any .env in the package directory
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.True(t, cfg.Sync.ClientLock)
	assert.Equal(t, 2, cfg.Sync.MaxTxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "snapsync", cfg.Metrics.Namespace)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Zero(t, cfg.RateLimit.RPS)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SNAPSYNC_DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("SNAPSYNC_SERVER_REQUEST_TIMEOUT", "5s")
	t.Setenv("SNAPSYNC_SYNC_CLIENT_LOCK", "false")
	t.Setenv("SNAPSYNC_RATE_LIMIT_RPS", "12.5")
	t.Setenv("SNAPSYNC_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Database.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.False(t, cfg.Sync.ClientLock)
	assert.Equal(t, 12.5, cfg.RateLimit.RPS)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_PlainPortAndDatabaseURL(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "8081")
	t.Setenv("DATABASE_URL", "postgres://plain@localhost/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "postgres://plain@localhost/db", cfg.Database.URL)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SNAPSYNC_SYNC_MAX_TX_RETRIES=7\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SNAPSYNC_SYNC_MAX_TX_RETRIES") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.MaxTxRetries)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "snapsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
logging:
  level: debug
  format: text
sync:
  max_snapshot_entities: 5000
  users_table: app.users
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5000, cfg.Sync.MaxSnapshotEntities)
	assert.Equal(t, "app.users", cfg.Sync.UsersTable)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("/nonexistent/snapsync.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{MaxBodyBytes: 1},
			Database: DatabaseConfig{URL: "postgres://x"},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Database.URL = ""
	require.ErrorContains(t, c.Validate(), "database.url")

	c = valid()
	c.Logging.Output = "file"
	require.ErrorContains(t, c.Validate(), "file_path")

	c = valid()
	c.Logging.Output = "syslog"
	require.ErrorContains(t, c.Validate(), "unknown logging.output")

	c = valid()
	c.RateLimit.RPS = 1
	require.ErrorContains(t, c.Validate(), "burst")
}
