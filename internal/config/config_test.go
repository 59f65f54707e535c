package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret-0123456789abcdef0123"
	refreshSecret = "refresh-secret-0123456789abcdef012"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
auth:
  access_secret: "`+accessSecret+`"
  refresh_secret: "`+refreshSecret+`"
  access_ttl: 10m
http:
  addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "refresh_token", cfg.Cookie.Name)
	assert.Equal(t, "@every 1h", cfg.Sweeper.Schedule)
	assert.True(t, cfg.Cookie.Secure)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
auth:
  access_secret: "`+accessSecret+`"
  refresh_secret: "`+refreshSecret+`"
`)
	t.Setenv("TAXPILOT_ACCESS_TTL", "5m")
	t.Setenv("TAXPILOT_HTTP_ADDR", ":7070")
	t.Setenv("TAXPILOT_LOG_LEVEL", "debug")
	t.Setenv("TAXPILOT_COOKIE_SECURE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Cookie.Secure)
}

func TestValidateRejectsUnsafeSecrets(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "memory"
	cfg.Auth.AccessSecret = accessSecret
	cfg.Auth.RefreshSecret = accessSecret
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")

	cfg.Auth.RefreshSecret = "short"
	assert.ErrorContains(t, cfg.Validate(), "refresh_secret must be at least 32 bytes")
}

func TestValidateTTLOrdering(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "memory"
	cfg.Auth.AccessSecret = accessSecret
	cfg.Auth.RefreshSecret = refreshSecret
	require.NoError(t, cfg.Validate())

	cfg.Auth.AccessTTL = cfg.Auth.RefreshTTL
	assert.ErrorContains(t, cfg.Validate(), "must be shorter")
}

func TestValidatePGRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Auth.AccessSecret = accessSecret
	cfg.Auth.RefreshSecret = refreshSecret
	assert.ErrorContains(t, cfg.Validate(), "database.dsn")
	cfg.Database.DSN = "postgres://localhost/taxpilot"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadBadDurationEnv(t *testing.T) {
	t.Setenv("TAXPILOT_REFRESH_TTL", "a week")
	_, err := Load(writeConfig(t, "database:\n  driver: memory\n"))
	assert.ErrorContains(t, err, "TAXPILOT_REFRESH_TTL")
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("TAXPILOT_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.10")
	cfg, err := Load(writeConfig(t, `
database:
  driver: memory
auth:
  access_secret: "`+accessSecret+`"
  refresh_secret: "`+refreshSecret+`"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.HTTP.TrustedProxies)

	cfg.HTTP.TrustedProxies = []string{"10.0.0.0/33"}
	assert.ErrorContains(t, cfg.Validate(), "http.trusted_proxies")
}

func TestWithDriverOverridesEnvAndRevalidates(t *testing.T) {
	t.Setenv("TAXPILOT_DB_DRIVER", "pg")
	t.Setenv("TAXPILOT_ACCESS_SECRET", accessSecret)
	t.Setenv("TAXPILOT_REFRESH_SECRET", refreshSecret)

	_, err := Load("")
	assert.ErrorContains(t, err, "database.dsn")

	cfg, err := Load("", WithDriver("memory"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)

	cfg, err = Load("", WithDriver(""))
	assert.ErrorContains(t, err, "database.dsn")
	assert.Nil(t, cfg)

	_, err = Load("", WithDriver("sqlite"))
	assert.ErrorContains(t, err, `database.driver "sqlite"`)
}
