package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIBRARY_CONFIG", "LIBRARY_ADDR", "LIBRARY_ALLOWED_ORIGIN", "LIBRARY_COOKIE_NAME",
		"LIBRARY_COOKIE_SAMESITE", "LIBRARY_COOKIE_SECURE", "LIBRARY_DB_DRIVER", "LIBRARY_DB_PATH",
		"DATABASE_DSN", "LIBRARY_SESSION_STORE", "REDIS_URL", "LIBRARY_SESSION_TTL",
		"LIBRARY_LOAN_PERIOD", "LIBRARY_MEMBER_LOG_SCOPE", "LIBRARY_BCRYPT_COST",
		"LIBRARY_SHUTDOWN_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
		"ADMIN_USERNAME", "ADMIN_EMAIL", "ADMIN_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:5173", cfg.Server.AllowedOrigin)
	assert.Equal(t, "LIBRARY_SESSION", cfg.Server.Cookie.Name)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/library.db", cfg.DSN())
	assert.Equal(t, SessionStoreSQL, cfg.Session.Store)
	assert.Equal(t, 14*24*time.Hour, cfg.Lending.LoanPeriod)
	assert.Equal(t, "own", cfg.Lending.MemberLogScope)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.False(t, cfg.Auth.Admin.Enabled())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
server:
  addr: ":9090"
  cookie:
    secure: true
database:
  driver: postgres
  dsn: postgres://lib:hunter2@db:5432/library
session:
  store: redis
  redis_url: redis://localhost:6379/0
  ttl: 12h
lending:
  loan_period: 72h
  member_log_scope: none
log:
  level: debug
`)
	t.Setenv("LIBRARY_ADDR", ":7070")
	t.Setenv("LIBRARY_LOAN_PERIOD", "21")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr, "env wins over YAML")
	assert.True(t, cfg.Server.Cookie.Secure)
	assert.Equal(t, "postgres://lib:hunter2@db:5432/library", cfg.DSN())
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 21*24*time.Hour, cfg.Lending.LoanPeriod)
	assert.Equal(t, "none", cfg.Lending.MemberLogScope)
	assert.Equal(t, "debug", cfg.Log.Level)

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "lib:***@db")
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIBRARY_CONFIG", writeYAML(t, "server:\n  addr: \":6060\"\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"LIBRARY_DB_DRIVER": "oracle"},
		"postgres without dsn": {"LIBRARY_DB_DRIVER": "postgres"},
		"redis without url":    {"LIBRARY_SESSION_STORE": "redis"},
		"unknown store":        {"LIBRARY_SESSION_STORE": "memcache"},
		"bad loan period":      {"LIBRARY_LOAN_PERIOD": "soon"},
		"zero loan period":     {"LIBRARY_LOAN_PERIOD": "0"},
		"bad scope":            {"LIBRARY_MEMBER_LOG_SCOPE": "all"},
		"bad cost":             {"LIBRARY_BCRYPT_COST": "99"},
		"admin without pass":   {"ADMIN_USERNAME": "root", "ADMIN_EMAIL": "root@example.com"},
		"bad samesite":         {"LIBRARY_COOKIE_SAMESITE": "sometimes"},
		"bad secure flag":      {"LIBRARY_COOKIE_SECURE": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeYAML(t, "server:\n  port: 8080\n"))
	assert.Error(t, err)
}

func TestAdminFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	t.Setenv("ADMIN_PASSWORD", "rootpass1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Admin.Enabled())
	assert.NotContains(t, cfg.String(), "rootpass1")
}
