package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LISTEN_ADDR", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LISTEN_ADDR", "")
	path := writeConfig(t, `
listen: ":9090"
redis:
  addr: "redis:6379"
  db: 2
limiter:
  ttl: 10s
  max: 2
  expired_at: "04:00"
  headers: ["X-Api-Key"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 10*time.Second, cfg.Limiter.TTL)
	assert.Equal(t, int64(2), cfg.Limiter.Max)
	assert.Equal(t, "04:00", cfg.Limiter.ExpiredAt)
	assert.Equal(t, "super-limiter-", cfg.Limiter.Prefix)
	assert.Equal(t, []string{"X-Api-Key"}, cfg.Limiter.Headers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("LISTEN_ADDR", ":7070")
	path := writeConfig(t, "redis:\n  addr: \"redis:6379\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, ":7070", cfg.Listen)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LISTEN_ADDR", "")

	var tests = []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "limiter: [oops"},
		{name: "zero ttl", content: "limiter:\n  ttl: 0s\n"},
		{name: "negative max", content: "limiter:\n  max: -1\n"},
		{name: "empty redis address", content: "redis:\n  addr: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
