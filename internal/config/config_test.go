package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sqlite", cfg.Queue.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.BreachScanInterval)
	assert.Equal(t, time.Hour, cfg.Schedule.DetectionInterval)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.RecoveryInterval)
	assert.Equal(t, 15*time.Minute, cfg.Engine.StuckAfter)
	assert.Equal(t, 5*time.Second, cfg.Engine.InterStepDelay)
	assert.False(t, cfg.Engine.FailOnExhaustion)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caseflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
queue:
  driver: memory
  capacity: 10
engine:
  inter_step_delay: 1s
  fail_on_exhaustion: true
schedule:
  breach_scan_interval: 5m
log:
  format: json
`), 0o600))

	t.Setenv("CASEFLOW_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CASEFLOW_WORKER_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Queue.Capacity)
	assert.Equal(t, time.Second, cfg.Engine.InterStepDelay)
	assert.True(t, cfg.Engine.FailOnExhaustion)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.BreachScanInterval)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"unknown store":          func(c *Config) { c.Store.Driver = "oracle" },
		"queue without store db": func(c *Config) { c.Store.Driver = "memory"; c.Queue.Driver = "sqlite" },
		"mongo without uri":      func(c *Config) { c.Exceptions.Backend = "mongo"; c.Exceptions.MongoURI = "" },
		"zero concurrency":       func(c *Config) { c.Worker.Concurrency = 0 },
		"zero scan interval":     func(c *Config) { c.Schedule.BreachScanInterval = 0 },
		"zero recovery interval": func(c *Config) { c.Schedule.RecoveryInterval = 0 },
		"stuck within backoff":   func(c *Config) { c.Engine.StuckAfter = time.Minute },
		"bad log level":          func(c *Config) { c.Log.Level = "loud" },
		"bad log format":         func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "instance_id", "i1")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"instance_id":"i1"`)
}
