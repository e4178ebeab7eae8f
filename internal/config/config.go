// Package config loads caseflow settings from a YAML file, CASEFLOW_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override,
// e.g. CASEFLOW_HTTP_ADDR.
const EnvPrefix = "CASEFLOW"

// Config holds the configuration for the caseflow service.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		// Driver is memory, sqlite or postgres.
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Queue struct {
		// Driver is memory, sqlite, postgres or redis. sqlite and postgres
		// share the store's database.
		Driver      string `mapstructure:"driver"`
		Capacity    int    `mapstructure:"capacity"`
		RedisAddr   string `mapstructure:"redis_addr"`
		RedisPrefix string `mapstructure:"redis_prefix"`
	} `mapstructure:"queue"`

	Exceptions struct {
		// Backend is store (same database as instances) or mongo.
		Backend         string `mapstructure:"backend"`
		MongoURI        string `mapstructure:"mongo_uri"`
		MongoDatabase   string `mapstructure:"mongo_database"`
		MongoCollection string `mapstructure:"mongo_collection"`
	} `mapstructure:"exceptions"`

	Worker struct {
		Concurrency       int           `mapstructure:"concurrency"`
		MaxAttempts       int           `mapstructure:"max_attempts"`
		InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
		BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
		MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"worker"`

	Engine struct {
		InterStepDelay   time.Duration `mapstructure:"inter_step_delay"`
		FailOnExhaustion bool          `mapstructure:"fail_on_exhaustion"`
		// StuckAfter is the idle time before an active instance's step is
		// re-enqueued. Negative disables recovery.
		StuckAfter time.Duration `mapstructure:"stuck_after"`
	} `mapstructure:"engine"`

	Schedule struct {
		Enabled            bool          `mapstructure:"enabled"`
		BreachScanInterval time.Duration `mapstructure:"breach_scan_interval"`
		DetectionInterval  time.Duration `mapstructure:"detection_interval"`
		RecoveryInterval   time.Duration `mapstructure:"recovery_interval"`
	} `mapstructure:"schedule"`

	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Notify struct {
		AdminRecipient string        `mapstructure:"admin_recipient"`
		SendTimeout    time.Duration `mapstructure:"send_timeout"`
	} `mapstructure:"notify"`

	Metrics struct {
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:caseflow.db?_pragma=busy_timeout(5000)")

	v.SetDefault("queue.driver", "sqlite")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_prefix", "caseflow:")

	v.SetDefault("exceptions.backend", "store")
	v.SetDefault("exceptions.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("exceptions.mongo_database", "caseflow")
	v.SetDefault("exceptions.mongo_collection", "case_exceptions")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.initial_backoff", 2*time.Second)
	v.SetDefault("worker.backoff_multiplier", 2.0)
	v.SetDefault("worker.max_backoff", 5*time.Minute)

	v.SetDefault("engine.inter_step_delay", 5*time.Second)
	v.SetDefault("engine.fail_on_exhaustion", false)
	v.SetDefault("engine.stuck_after", 15*time.Minute)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.breach_scan_interval", 15*time.Minute)
	v.SetDefault("schedule.detection_interval", time.Hour)
	v.SetDefault("schedule.recovery_interval", 5*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("notify.admin_recipient", "operations@caseflow.local")
	v.SetDefault("notify.send_timeout", 30*time.Second)

	v.SetDefault("metrics.namespace", "caseflow")
}

// Load reads configuration. With an empty path it looks for config.yaml in
// the working directory and ./config, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver: unsupported %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.New("store.dsn is required")
	}

	switch c.Queue.Driver {
	case "memory", "redis":
	case "sqlite", "postgres":
		if c.Queue.Driver != c.Store.Driver {
			return fmt.Errorf("queue.driver %q requires store.driver %q", c.Queue.Driver, c.Queue.Driver)
		}
	default:
		return fmt.Errorf("queue.driver: unsupported %q", c.Queue.Driver)
	}
	if c.Queue.Driver == "memory" && c.Queue.Capacity <= 0 {
		return errors.New("queue.capacity must be positive")
	}

	switch c.Exceptions.Backend {
	case "store":
	case "mongo":
		if c.Exceptions.MongoURI == "" {
			return errors.New("exceptions.mongo_uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("exceptions.backend: unsupported %q", c.Exceptions.Backend)
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return errors.New("worker.max_attempts must be positive")
	}
	if c.Worker.InitialBackoff < 0 || c.Worker.MaxBackoff < 0 {
		return errors.New("worker backoff durations must not be negative")
	}
	if c.Schedule.Enabled && (c.Schedule.BreachScanInterval <= 0 || c.Schedule.DetectionInterval <= 0 || c.Schedule.RecoveryInterval <= 0) {
		return errors.New("schedule intervals must be positive")
	}
	if c.Engine.StuckAfter >= 0 && (c.Engine.StuckAfter <= c.Worker.MaxBackoff || c.Engine.StuckAfter <= c.Engine.InterStepDelay) {
		return errors.New("engine.stuck_after must exceed worker.max_backoff and engine.inter_step_delay")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported %q", c.Log.Format)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
