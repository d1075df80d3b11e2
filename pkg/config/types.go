package config

import (
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/metadata"
)

type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Etcd        EtcdConfig        `yaml:"etcd" json:"etcd"`
	Taxonomy    TaxonomyConfig    `yaml:"taxonomy" json:"taxonomy"`
	Licenses    LicensesConfig    `yaml:"licenses" json:"licenses"`
	Publication PublicationConfig `yaml:"publication" json:"publication"`

	// ManifestsDir holds ImportSource manifests loaded at startup.
	ManifestsDir          string        `yaml:"manifestsDir" json:"manifestsDir" split_words:"true"`
	DefaultSyncPeriod     time.Duration `yaml:"defaultSyncPeriod" json:"defaultSyncPeriod" split_words:"true"`
	Workers               WorkersConfig `yaml:"workers" json:"workers"`
	WebhookDebounceWindow time.Duration `yaml:"webhookDebounceWindow" json:"webhookDebounceWindow" split_words:"true"`
}

type ServerConfig struct {
	Address     string `yaml:"address" json:"address" split_words:"true"`
	HealthCheck bool   `yaml:"healthCheck" json:"healthCheck" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" split_words:"true"`
	Format string `yaml:"format" json:"format" split_words:"true"`
	Output string `yaml:"output" json:"output" split_words:"true"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" split_words:"true"`
	Path    string `yaml:"path" json:"path" split_words:"true"`
}

type DatabaseConfig struct {
	// Driver is one of memory, postgres, sqlite, mysql or sqlserver.
	Driver          string        `yaml:"driver" json:"driver" split_words:"true"`
	DSN             string        `yaml:"dsn" json:"dsn" split_words:"true"`
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns" split_words:"true"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime" split_words:"true"`
}

type EtcdConfig struct {
	// Endpoints empty disables leader election and manifest watching.
	Endpoints   []string      `yaml:"endpoints" json:"endpoints" split_words:"true"`
	DialTimeout time.Duration `yaml:"dialTimeout" json:"dialTimeout" split_words:"true"`
	Name        string        `yaml:"name" json:"name" split_words:"true"`
}

type TaxonomyConfig struct {
	// File is a YAML taxonomy document. Empty loads tag entities from the
	// database.
	File string `yaml:"file" json:"file" split_words:"true"`
}

type LicensesConfig struct {
	Holder  string                 `yaml:"holder" json:"holder" split_words:"true"`
	Rules   []metadata.LicenseRule `yaml:"rules" json:"rules" ignored:"true"`
	Default *metadata.LicenseRule  `yaml:"default" json:"default" ignored:"true"`
}

type PublicationConfig struct {
	Channels       []string            `yaml:"channels" json:"channels" split_words:"true"`
	AllowedSources map[string][]string `yaml:"allowedSources" json:"allowedSources" ignored:"true"`
}

type WorkersConfig struct {
	ReconcileWorkers int `yaml:"reconcileWorkers" json:"reconcileWorkers" split_words:"true"`
	QueueSize        int `yaml:"queueSize" json:"queueSize" split_words:"true"`
}

// Table returns the configured license rules, or the default table when
// none are set.
func (c LicensesConfig) Table() metadata.RuleTable {
	if len(c.Rules) == 0 && c.Default == nil {
		return metadata.DefaultRuleTable(c.Holder)
	}

	table := metadata.RuleTable{Rules: c.Rules}
	if c.Default != nil {
		table.Default = *c.Default
	} else {
		table.Default = metadata.LicenseRule{License: metadata.LicenseClosed, LicenseHolder: c.Holder}
	}
	return table
}
