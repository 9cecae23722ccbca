package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCALER_LOG_LEVEL or SCALER_JANITOR_RETENTION
const EnvPrefix = "SCALER"

// Config is the process configuration of the scaler
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Docker  DockerConfig  `mapstructure:"docker" yaml:"docker"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Janitor JanitorConfig `mapstructure:"janitor" yaml:"janitor"`

	// APITimeout bounds every orchestrator call
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`

	// SweepWorkers bounds how many services one sweep reconciles in parallel
	SweepWorkers int `mapstructure:"sweep_workers" yaml:"sweep_workers"`

	// ReconcileOnSync sweeps all services after every startup sync
	ReconcileOnSync bool `mapstructure:"reconcile_on_sync" yaml:"reconcile_on_sync"`

	// DryRun logs scale and removal decisions without applying them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type DockerConfig struct {
	// Host overrides DOCKER_HOST
	Host string `mapstructure:"host" yaml:"host"`
}

type MetricsConfig struct {
	// Addr serves /metrics and the health endpoints. Empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// CollectInterval is how often node counts are sampled
	CollectInterval time.Duration `mapstructure:"collect_interval" yaml:"collect_interval"`
}

type JanitorConfig struct {
	// Schedule is a cron expression. Empty runs the janitor once.
	Schedule  string        `mapstructure:"schedule" yaml:"schedule"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: ":9090", CollectInterval: 30 * time.Second},
		Janitor: JanitorConfig{Retention: 24 * time.Hour},

		APITimeout:      orchestrator.DefaultTimeout,
		SweepWorkers:    4,
		ReconcileOnSync: true,
	}
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-json":          "log.json",
	"docker-host":       "docker.host",
	"metrics-addr":      "metrics.addr",
	"janitor-schedule":  "janitor.schedule",
	"schedule":          "janitor.schedule",
	"retention":         "janitor.retention",
	"api-timeout":       "api_timeout",
	"sweep-workers":     "sweep_workers",
	"reconcile-on-sync": "reconcile_on_sync",
	"dry-run":           "dry_run",
}

// Load builds the configuration from defaults, the optional YAML file at
// path, SCALER_* environment variables and flags, in increasing order of
// precedence. Without a path, scaler.yaml is looked up in /etc/scaler and
// the working directory and skipped when absent.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scaler")
		v.AddConfigPath("/etc/scaler")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load configuration file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("docker.host", d.Docker.Host)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.collect_interval", d.Metrics.CollectInterval)
	v.SetDefault("janitor.schedule", d.Janitor.Schedule)
	v.SetDefault("janitor.retention", d.Janitor.Retention)
	v.SetDefault("api_timeout", d.APITimeout)
	v.SetDefault("sweep_workers", d.SweepWorkers)
	v.SetDefault("reconcile_on_sync", d.ReconcileOnSync)
	v.SetDefault("dry_run", d.DryRun)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.APITimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("api_timeout must be positive, got %s", c.APITimeout))
	}
	if c.SweepWorkers <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("sweep_workers must be positive, got %d", c.SweepWorkers))
	}
	if c.Metrics.CollectInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("metrics.collect_interval must be positive, got %s", c.Metrics.CollectInterval))
	}
	if c.Janitor.Retention <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("janitor.retention must be positive, got %s", c.Janitor.Retention))
	}
	if c.Janitor.Schedule != "" {
		if _, err := cron.ParseStandard(c.Janitor.Schedule); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("janitor.schedule %q is invalid: %w", c.Janitor.Schedule, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	return nil
}

// RetryPolicy returns the orchestrator retry policy with the configured
// per-call timeout
func (c *Config) RetryPolicy() orchestrator.RetryPolicy {
	p := orchestrator.DefaultRetryPolicy()
	p.Timeout = c.APITimeout
	return p
}

// LogLevel returns the parsed log level. Validate must have succeeded.
func (c *Config) LogLevel() log.Level {
	level, _ := log.ParseLevel(c.Log.Level)
	return level
}

// YAML renders the configuration as a YAML document
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return out, nil
}
