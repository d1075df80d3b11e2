package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "ODHSYNC"

var knownDrivers = []string{"memory", "postgres", "sqlite", "mysql", "sqlserver"}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8080",
			HealthCheck: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{},
			DialTimeout: 5 * time.Second,
			Name:        "node-1",
		},
		ManifestsDir:      "/etc/odhsync/sources",
		DefaultSyncPeriod: 15 * time.Minute,
		Workers: WorkersConfig{
			ReconcileWorkers: 4,
			QueueSize:        100,
		},
		WebhookDebounceWindow: 5 * time.Second,
	}
}

// LoadConfig reads path over the defaults and applies ODHSYNC_* environment
// overrides. An empty path only applies the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if !slices.Contains(knownDrivers, c.Database.Driver) {
		errs = append(errs, fmt.Errorf("unknown database driver: %s", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver))
	}
	if c.DefaultSyncPeriod <= 0 {
		errs = append(errs, errors.New("defaultSyncPeriod must be positive"))
	}
	if c.Workers.ReconcileWorkers < 0 {
		errs = append(errs, errors.New("workers.reconcileWorkers must not be negative"))
	}
	if c.Workers.QueueSize < 0 {
		errs = append(errs, errors.New("workers.queueSize must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, errors.New("metrics.path is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}
