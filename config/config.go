// Package config loads engine settings from a file and WORKFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WORKFLOW_STORE_DRIVER.
const EnvPrefix = "WORKFLOW"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	Engine      EngineConfig     `mapstructure:"engine"`
	Permission  PermissionConfig `mapstructure:"permission"`
	Store       StoreConfig      `mapstructure:"store"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Log         LogConfig        `mapstructure:"log"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Definitions []string         `mapstructure:"definitions"`
}

type EngineConfig struct {
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	AutoSave string        `mapstructure:"autosave"`
}

type PermissionConfig struct {
	ContextTTL     time.Duration `mapstructure:"context_ttl"`
	DecisionWindow time.Duration `mapstructure:"decision_window"`
}

type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	SQLite SQLiteStore `mapstructure:"sqlite"`
	Redis  RedisStore  `mapstructure:"redis"`
}

type SQLiteStore struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type RedisStore struct {
	Addr   string        `mapstructure:"addr"`
	DB     int           `mapstructure:"db"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// NotifyConfig controls redelivery of failed notifications.
type NotifyConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			LockTTL:  30 * time.Second,
			AutoSave: "@every 1m",
		},
		Permission: PermissionConfig{
			ContextTTL:     5 * time.Minute,
			DecisionWindow: time.Minute,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			SQLite: SQLiteStore{DSN: "workflows.db", Table: "workflow_instances"},
			Redis:  RedisStore{Addr: "localhost:6379", Prefix: "workflow"},
		},
		Notify: NotifyConfig{
			MaxAttempts:   3,
			BackoffBase:   200 * time.Millisecond,
			BackoffFactor: 2,
			BackoffMax:    5 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Namespace: "workflow"},
	}
}

// Load reads path (any format viper understands; optional when empty) and applies
// WORKFLOW_ environment overrides on top of Defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLite.DSN) == "" {
			errs = append(errs, errors.New("store.sqlite.dsn is required"))
		}
	case DriverRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Engine.LockTTL <= 0 {
		errs = append(errs, errors.New("engine.lock_ttl must be positive"))
	}
	if c.Notify.MaxAttempts < 1 {
		errs = append(errs, errors.New("notify.max_attempts must be at least 1"))
	}
	if c.Permission.ContextTTL < 0 || c.Permission.DecisionWindow < 0 {
		errs = append(errs, errors.New("permission durations cannot be negative"))
	}
	return errors.Join(errs...)
}

// keys are registered as defaults so that AutomaticEnv can see them during Unmarshal
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("engine.lock_ttl", d.Engine.LockTTL)
	v.SetDefault("engine.autosave", d.Engine.AutoSave)
	v.SetDefault("permission.context_ttl", d.Permission.ContextTTL)
	v.SetDefault("permission.decision_window", d.Permission.DecisionWindow)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite.dsn", d.Store.SQLite.DSN)
	v.SetDefault("store.sqlite.table", d.Store.SQLite.Table)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.redis.ttl", d.Store.Redis.TTL)
	v.SetDefault("notify.max_attempts", d.Notify.MaxAttempts)
	v.SetDefault("notify.backoff_base", d.Notify.BackoffBase)
	v.SetDefault("notify.backoff_factor", d.Notify.BackoffFactor)
	v.SetDefault("notify.backoff_max", d.Notify.BackoffMax)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}
