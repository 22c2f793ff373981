package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: 9090
  mode: debug
database:
  driver: postgres
  host: db.internal
  name: doctors
  user: svc
jwt:
  secret: from-file
transfer:
  rollback_retention: 48h
outbox:
  batch_size: 25
directory:
  static_branches:
    - 11111111-1111-1111-1111-111111111111
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 48*time.Hour, cfg.Transfer.RollbackRetention)
	assert.Equal(t, 25, cfg.Outbox.BatchSize)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, []string{"11111111-1111-1111-1111-111111111111"}, cfg.Directory.StaticBranches)
	assert.Equal(t, "postgres://svc:@db.internal:5432/doctors?sslmode=disable", cfg.Database.DSN())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "override-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
database:
  driver: sqlite
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret is required")
	assert.Contains(t, err.Error(), `unknown database.driver "sqlite"`)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
