package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":3000", cfg.Server.Addr())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, "host.toml", `
[server]
port = 8080
allowed_origins = ["https://play.example.com"]

[host]
max_arenas = 4
shutdown_timeout = "3s"

[logging]
level = "debug"
format = "console"
`)
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port, "env wins over the file")
	assert.Equal(t, []string{"https://play.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 4, cfg.Host.MaxArenas)
	assert.Equal(t, 3*time.Second, cfg.Host.ShutdownTimeout)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "arena", cfg.NATS.SubjectPrefix, "untouched defaults survive")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "host.toml", "[server]\nprot = 1\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, c AppConfig)
	}{
		{"origins", "ALLOWED_ORIGINS", " https://a.io, ,https://b.io", func(t *testing.T, c AppConfig) {
			assert.Equal(t, []string{"https://a.io", "https://b.io"}, c.Server.AllowedOrigins)
		}},
		{"unlimited arenas", "MAX_ARENAS", "0", func(t *testing.T, c AppConfig) {
			assert.Equal(t, 0, c.Host.MaxArenas)
		}},
		{"warm off", "WARM_ARENAS", "false", func(t *testing.T, c AppConfig) {
			assert.False(t, c.Host.Warm)
		}},
		{"input rate", "INPUT_RATE", "7.5", func(t *testing.T, c AppConfig) {
			assert.Equal(t, 7.5, c.RateLimit.InputsPerSecond)
		}},
		{"debug disabled", "DEBUG_ADDR", "", func(t *testing.T, c AppConfig) {
			assert.Empty(t, c.Debug.Addr)
		}},
		{"bad number ignored", "PORT", "http", func(t *testing.T, c AppConfig) {
			assert.Equal(t, 3000, c.Server.Port)
		}},
		{"trace", "TRACE_LOG", "/tmp/trace.jsonl", func(t *testing.T, c AppConfig) {
			assert.Equal(t, "/tmp/trace.jsonl", c.Trace.Path)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := Load("")
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Logging.Format = "xml"
	cfg.Host.ShutdownTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "logging.format")
	assert.ErrorContains(t, err, "shutdown_timeout")
}

func TestParseKinds(t *testing.T) {
	cfgs, err := ParseKinds([]byte(`
kinds:
  - name: tally
    plugin: tally
    tick_interval: 50ms
    min_population: 2
    max_population: 6
    limbo: 3s
    options:
      script: scripts/bots/tally.lua
  - name: duel
    plugin: tally
    max_population: 2
    explicit_acks: true
`))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	tally := cfgs[0]
	assert.Equal(t, "tally", tally.Kind)
	assert.Equal(t, 50*time.Millisecond, tally.TickInterval)
	assert.Equal(t, 6, tally.Capacity, "capacity defaults to max population")
	assert.Equal(t, 3*time.Second, tally.Limbo)
	assert.Equal(t, "scripts/bots/tally.lua", tally.Options["script"])

	duel := cfgs[1]
	assert.True(t, duel.ExplicitAcks)
	assert.Equal(t, 100*time.Millisecond, duel.TickInterval)
}

func TestParseKindsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "kinds: []", "no kinds"},
		{"unknown field", "kinds:\n  - name: a\n    tick: 1s\n", "field tick not found"},
		{"no name", "kinds:\n  - plugin: tally\n", "no name"},
		{"duplicate", "kinds:\n  - name: a\n  - name: a\n", "defined twice"},
		{"invalid bounds", "kinds:\n  - name: a\n    min_population: 9\n    max_population: 2\n", "exceeds max_population"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKinds([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadKindsDefault(t *testing.T) {
	cfgs, err := LoadKinds("")
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, 2, cfgs[0].MinPopulation)
	assert.Equal(t, 6, cfgs[0].MaxPopulation)
}

func TestLoadShippedKinds(t *testing.T) {
	cfgs, err := LoadKinds(filepath.Join("..", "..", "configs", "kinds.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfgs)
}
