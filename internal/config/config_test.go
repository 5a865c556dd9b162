package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
database:
  user: syncer
  dbname: catalog
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "http://127.0.0.1:45869", cfg.Hydrus.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Hydrus.Timeout)
	assert.Equal(t, []string{"system:everything"}, cfg.Sync.SearchTags)
	assert.Equal(t, 256, cfg.Sync.BatchSize)
	assert.Equal(t, 20, cfg.Sync.Concurrency)
	require.NotNil(t, cfg.Sync.ItemRetries)
	assert.Equal(t, 3, *cfg.Sync.ItemRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.RetryBaseDelay)
	assert.Equal(t, 200, cfg.Sync.MaxReportedErrors)
	assert.Zero(t, cfg.Sync.Interval)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  host: db.internal
  port: 6432
  user: syncer
  password: secret
  dbname: catalog
  sslmode: require
hydrus:
  base_url: http://hydrus:45869
  access_key: abc
  rate_limit: 5
  rate_burst: 2
sync:
  interval: 15m
  search_tags: ["system:inbox", "blue sky"]
  batch_size: 64
  concurrency: 4
  skip_reconciliation: true
log:
  level: debug
  format: text
`))
	require.NoError(t, err)

	assert.Equal(t, "host=db.internal port=6432 user=syncer password=secret dbname=catalog sslmode=require", cfg.Database.DSN())
	assert.Equal(t, "abc", cfg.Hydrus.AccessKey)
	assert.Equal(t, 5.0, cfg.Hydrus.RateLimit)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, []string{"system:inbox", "blue sky"}, cfg.Sync.SearchTags)
	assert.Equal(t, 64, cfg.Sync.BatchSize)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.True(t, cfg.Sync.SkipReconciliation)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("SYNCER_DB_PASSWORD", "from-env")
	t.Setenv("HYDRUS_ACCESS_KEY", "key-from-env")

	cfg, err := Parse([]byte(minimal + `
  password: ${SYNCER_DB_PASSWORD}
hydrus:
  access_key: $HYDRUS_ACCESS_KEY
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "key-from-env", cfg.Hydrus.AccessKey)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing user", "database:\n  dbname: catalog\n"},
		{"bad sslmode", minimal + "  sslmode: sometimes\n"},
		{"bad base url", minimal + "hydrus:\n  base_url: not a url\n"},
		{"negative interval", minimal + "sync:\n  interval: -1m\n"},
		{"backoff inverted", minimal + "hydrus:\n  retry:\n    initial_backoff: 10s\n    max_backoff: 1s\n"},
		{"rabbitmq without url", minimal + "rabbitmq:\n  enabled: true\n"},
		{"bad log level", minimal + "log:\n  level: loud\n"},
		{"negative item retries", minimal + "sync:\n  item_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "catalog", cfg.Database.DBName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_ZeroItemRetriesDisablesRetry(t *testing.T) {
	cfg, err := Parse([]byte(minimal + "sync:\n  item_retries: 0\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Sync.ItemRetries)
	assert.Equal(t, 0, *cfg.Sync.ItemRetries)
	assert.Equal(t, 0, cfg.Sync.Retries())
}

func TestSyncConfig_RetriesDefault(t *testing.T) {
	assert.Equal(t, DefaultItemRetries, SyncConfig{}.Retries())
}
