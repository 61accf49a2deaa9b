package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.SQL.Driver)
	require.Equal(t, "memory", cfg.Cache.Type)
	require.Equal(t, "channel", cfg.EventBus.Type)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediary.yaml")
	data := `
server:
  port: 9090
sql:
  driver: postgres
  postgresHost: db.internal
  postgresDB: mediary
cache:
  type: redis
  redisAddr: cache.internal:6379
janitor:
  interval: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.SQL.Driver)
	require.Equal(t, "db.internal", cfg.SQL.PostgresHost)
	require.Equal(t, "redis", cfg.Cache.Type)
	require.Equal(t, 30*time.Minute, cfg.Janitor.Interval)

	// Untouched sections keep their defaults.
	require.Equal(t, "channel", cfg.EventBus.Type)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad driver", "sql:\n  driver: oracle\n"},
		{"bad cache", "cache:\n  type: memcached\n"},
		{"bad bus", "eventBus:\n  type: kafka\n"},
		{"bad port", "server:\n  port: 99999\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
