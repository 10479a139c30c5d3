package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "housecup.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadFile_NoFile(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Engine.MaxAttempts)
}

func TestLoadFile_TOMLOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
[app]
timezone = "Asia/Almaty"

[http]
port = 9090
api_keys = ["k1", "k2"]

[store]
driver = "sqlite"
path = "/tmp/cup.db"

[engine]
max_attempts = 6
initial_backoff = "10ms"

[scheduler]
snapshot_schedule = "@every 15m"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/cup.db", cfg.Store.Path)
	assert.Equal(t, 6, cfg.Engine.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.InitialBackoff)
	assert.Equal(t, "@every 15m", cfg.Scheduler.SnapshotSchedule)
	assert.Equal(t, "Asia/Almaty", cfg.Location().String())

	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.MaxBackoff)
}

func TestLoadFile_EnvironmentWins(t *testing.T) {
	path := writeFile(t, `
[http]
port = 9090

[redis]
enabled = true
addr = "redis-a:6379"
`)
	t.Setenv("HOUSECUP_HTTP_PORT", "7070")
	t.Setenv("HOUSECUP_REDIS_ADDR", "redis-b:6379")
	t.Setenv("HOUSECUP_ENGINE_JITTER", "0.25")
	t.Setenv("HOUSECUP_HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis-b:6379", cfg.Redis.Addr)
	assert.InDelta(t, 0.25, cfg.Engine.Jitter, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, `
[http]
prot = 9090
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.prot")
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadFile_BadEnvironmentValue(t *testing.T) {
	t.Setenv("HOUSECUP_HTTP_PORT", "eighty")
	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config environment")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad env", func(c *Config) { c.App.Environment = "qa" }, "app.environment"},
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, "app.timezone"},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.url"},
		{"sqlite without path", func(c *Config) {
			c.Store.Driver = DriverSQLite
			c.Store.Path = ""
		}, "store.path"},
		{"memory in production", func(c *Config) { c.App.Environment = EnvProduction }, "not durable"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"zero attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }, "engine.max_attempts"},
		{"inverted backoff", func(c *Config) { c.Engine.MaxBackoff = time.Millisecond }, "engine backoff"},
		{"jitter above one", func(c *Config) { c.Engine.Jitter = 1.5 }, "engine.jitter"},
		{"empty buffer", func(c *Config) { c.Subscription.Buffer = 0 }, "subscription.buffer"},
		{"bad schedule", func(c *Config) { c.Scheduler.AuditSchedule = "whenever" }, "scheduler.audit_schedule"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }, "observability.log_level"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "observability.log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_DisabledSchedulerSkipsSchedules(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.SnapshotSchedule = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = -1
	cfg.Engine.MaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.port")
	assert.Contains(t, err.Error(), "engine.max_attempts")
}
