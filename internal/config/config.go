// Package config loads the scheduler daemon settings from an optional YAML
// file and TASKPET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. TASKPET_STORAGE_PATH
const EnvPrefix = "TASKPET"

// Config is the daemon configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	LogMode string `mapstructure:"log_mode"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	RecoverStaleAfter time.Duration `mapstructure:"recover_stale_after"`
	RetentionKeep     int           `mapstructure:"retention_keep"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	CronLocation      string        `mapstructure:"cron_location"`
	StrictTriggers    bool          `mapstructure:"strict_triggers"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Embedded       bool          `mapstructure:"embedded"`
	EmbeddedPort   int           `mapstructure:"embedded_port"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	EventPrefix    string        `mapstructure:"event_prefix"`
	CommandPrefix  string        `mapstructure:"command_prefix"`
}

type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "taskpet-scheduler")
	v.SetDefault("app.log_mode", "development")

	v.SetDefault("storage.path", "data/tasks.db")

	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.recover_stale_after", 10*time.Minute)
	v.SetDefault("scheduler.retention_keep", 0)
	v.SetDefault("scheduler.prune_interval", time.Hour)
	v.SetDefault("scheduler.cron_location", "UTC")
	v.SetDefault("scheduler.strict_triggers", false)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.embedded_port", 4222)
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.event_prefix", "scheduler.events")
	v.SetDefault("nats.command_prefix", "scheduler.cmd")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", time.Minute)
}

// Load reads config.yaml from the first of dirs that has one, then applies
// environment overrides. A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(dirs) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the daemon misbehave
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.RetentionKeep < 0 {
		return fmt.Errorf("scheduler.retention_keep must not be negative, got %d", c.Scheduler.RetentionKeep)
	}
	switch c.App.LogMode {
	case "development", "production":
	default:
		return fmt.Errorf("app.log_mode must be development or production, got %q", c.App.LogMode)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the time zone cron expressions are evaluated in
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.CronLocation)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.cron_location: %w", err)
	}
	return loc, nil
}
