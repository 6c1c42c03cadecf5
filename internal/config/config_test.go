package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "contact_records", cfg.Athena.Table)
	assert.Equal(t, "@every 5m", cfg.Dashboard.RefreshSpec)
	assert.Equal(t, 256, cfg.Sessions.SessionCapacity)
	assert.Equal(t, time.UTC, cfg.Server.Location())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9090, "timezone": "America/New_York"},
		"athena": {"database": "analytics", "table": "ctr"},
		"exports": {"bucket": "from-file"}
	}`), 0o600))

	t.Setenv("EXPORTS_BUCKET", "from-env")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SESSION_TTL", "45m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "analytics", cfg.Athena.Database)
	assert.Equal(t, "ctr", cfg.Athena.Table)
	// Unset fields keep their defaults
	assert.Equal(t, "primary", cfg.Athena.WorkGroup)
	assert.Equal(t, "from-env", cfg.Exports.Bucket)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.SessionTTL)
	assert.Equal(t, "America/New_York", cfg.Server.Location().String())
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": "x"}}`), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	t.Setenv("SERVER_TIMEZONE", "Mars/Olympus")
	_, err = LoadConfig("")
	assert.Error(t, err)
}
