package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("applies defaults", func(t *testing.T) {
		path := writeConfig(t, `
database:
  type: sqlite
  sqlite:
    path: `+filepath.Join(dir, "data", "app.db")+`
session:
  secret: s3cret
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "/", cfg.Server.LandingPath)
		assert.Equal(t, "/auth/login", cfg.Server.LoginPath)
		assert.Equal(t, "orgreg_session", cfg.Session.CookieName)
		assert.Equal(t, 720*time.Hour, cfg.SessionTTL())
		assert.Equal(t, 10, cfg.Security.BcryptCost)
		assert.DirExists(t, filepath.Join(dir, "data"))
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("ORGREG_SESSION_SECRET", "from-env")
		t.Setenv("ORGREG_API_KEY", "key-from-env")
		path := writeConfig(t, `
database:
  sqlite:
    path: `+filepath.Join(dir, "env.db")+`
session:
  secret: from-file
  expires_in: 2h
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Session.Secret)
		assert.Equal(t, "key-from-env", cfg.Security.APIKey)
		assert.Equal(t, 2*time.Hour, cfg.SessionTTL())
	})

	t.Run("missing secret", func(t *testing.T) {
		path := writeConfig(t, `
database:
  sqlite:
    path: `+filepath.Join(dir, "nosecret.db")+`
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "session secret")
	})

	t.Run("mysql requires credentials", func(t *testing.T) {
		path := writeConfig(t, `
database:
  type: mysql
session:
  secret: x
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "MySQL username")
	})

	t.Run("unknown database type", func(t *testing.T) {
		path := writeConfig(t, `
database:
  type: oracle
session:
  secret: x
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "unsupported database type")
	})

	t.Run("trusted proxies", func(t *testing.T) {
		path := writeConfig(t, `
server:
  trusted_proxies: ["10.0.0.1", "192.168.0.0/16"]
database:
  sqlite:
    path: `+filepath.Join(dir, "proxies.db")+`
session:
  secret: x
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.TrustedProxies)

		path = writeConfig(t, `
server:
  trusted_proxies: ["not-an-ip"]
database:
  sqlite:
    path: `+filepath.Join(dir, "proxies.db")+`
session:
  secret: x
`)
		_, err = Load(path)
		assert.ErrorContains(t, err, "trusted_proxies")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
