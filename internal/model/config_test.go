package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "imap", cfg.Gateway.Kind)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 100, cfg.Gateway.MaxPageSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.Interval)
	assert.False(t, cfg.Flags.Propagate)
	assert.True(t, cfg.Account.TLS)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
account:
  imap_host: imap.example.com
  username: ops@example.com
gateway:
  timeout: 5s
  max_page_size: 50
cache:
  ttl: 90s
flags:
  propagate: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.Account.IMAPHost)
	assert.Equal(t, "993", cfg.Account.IMAPPort)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 50, cfg.Gateway.MaxPageSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Flags.Propagate)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAILSYNC_CACHE_TTL", "2m")
	t.Setenv("MAILSYNC_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsMaildirWithoutPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  kind: maildir\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
