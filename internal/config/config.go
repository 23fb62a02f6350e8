// Package config loads hearth's settings from a YAML file and HEARTH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/alloc"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/task"
)

// EnvPrefix prefixes every environment override, e.g. HEARTH_DATABASE_DSN.
const EnvPrefix = "HEARTH"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Task result backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete hearth configuration.
type Config struct {
	Libvirt  LibvirtConfig  `mapstructure:"libvirt"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Ports    PortsConfig    `mapstructure:"ports"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

// LibvirtConfig locates the libvirt daemon.
type LibvirtConfig struct {
	Socket  string        `mapstructure:"socket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig selects the row store. The memory driver keeps nothing
// between runs and exists for tests and dry runs.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// StorageConfig holds the on-disk locations.
type StorageConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	BaseDir        string        `mapstructure:"base_dir"`
	ISODir         string        `mapstructure:"iso_dir"`
	QemuImgTimeout time.Duration `mapstructure:"qemu_img_timeout"`
	// Owner is a local user name applied to created files; empty keeps the
	// process owner.
	Owner string `mapstructure:"owner"`
}

// TasksConfig sizes the worker pool and picks where results live.
type TasksConfig struct {
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Backend   string        `mapstructure:"backend"`
	RedisURL  string        `mapstructure:"redis_url"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// PortsConfig controls display port allocation.
type PortsConfig struct {
	Base        int `mapstructure:"base"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig is the listen address of /metrics. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ServeConfig tunes the long-running daemon.
type ServeConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("libvirt.socket", libvirt.DefaultSocket)
	v.SetDefault("libvirt.timeout", libvirt.DefaultTimeout)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "host=localhost user=hearth dbname=hearth sslmode=disable")

	v.SetDefault("storage.data_dir", disk.DefaultDataDir)
	v.SetDefault("storage.base_dir", "/var/lib/hearth/base")
	v.SetDefault("storage.iso_dir", "/var/lib/hearth/isos")
	v.SetDefault("storage.qemu_img_timeout", disk.DefaultQemuImgTimeout)
	v.SetDefault("storage.owner", "")

	v.SetDefault("tasks.workers", task.DefaultWorkers)
	v.SetDefault("tasks.timeout", task.DefaultTimeout)
	v.SetDefault("tasks.backend", BackendMemory)
	v.SetDefault("tasks.redis_url", "")
	v.SetDefault("tasks.result_ttl", task.DefaultResultTTL)

	v.SetDefault("ports.base", alloc.DefaultPortBase)
	v.SetDefault("ports.max_attempts", alloc.DefaultPortAttempts)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("serve.refresh_interval", time.Minute)
}

// Load reads path (optional) over the defaults, then applies HEARTH_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Libvirt.Socket == "" {
		errs = append(errs, errors.New("libvirt.socket is required"))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}

	if c.Storage.DataDir == "" || c.Storage.BaseDir == "" || c.Storage.ISODir == "" {
		errs = append(errs, errors.New("storage.data_dir, storage.base_dir and storage.iso_dir are required"))
	}
	if c.Storage.QemuImgTimeout <= 0 {
		errs = append(errs, fmt.Errorf("storage.qemu_img_timeout must be > 0, got %s", c.Storage.QemuImgTimeout))
	}

	if c.Tasks.Workers <= 0 {
		errs = append(errs, fmt.Errorf("tasks.workers must be > 0, got %d", c.Tasks.Workers))
	}
	switch c.Tasks.Backend {
	case BackendRedis:
		if c.Tasks.RedisURL == "" {
			errs = append(errs, errors.New("tasks.redis_url is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("tasks.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Tasks.Backend))
	}

	if c.Ports.Base <= 0 || c.Ports.Base > 65535 {
		errs = append(errs, fmt.Errorf("ports.base must be a port number, got %d", c.Ports.Base))
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Serve.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("serve.refresh_interval must be > 0, got %s", c.Serve.RefreshInterval))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
