// Package config loads relocator settings from a YAML file, a .env file and
// RELOCATOR_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tenantfed/relocator/pkg/ha"
	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/regions"
	"github.com/tenantfed/relocator/pkg/store"
)

// EnvPrefix prefixes every environment override, e.g.
// RELOCATOR_SOURCE_DB_DSN for source.db.dsn.
const EnvPrefix = "RELOCATOR"

type Config struct {
	Source    regions.RegionConfig `mapstructure:"source" yaml:"source"`
	Regions   RegionsConfig        `mapstructure:"regions" yaml:"regions"`
	Migration MigrationConfig      `mapstructure:"migration" yaml:"migration"`
	Log       LogConfig            `mapstructure:"log" yaml:"log"`
}

// RegionsConfig describes the destination: the main deployment and the
// data regions workspaces may be assigned to, keyed by region key.
type RegionsConfig struct {
	Main      regions.RegionConfig            `mapstructure:"main" yaml:"main"`
	Available map[string]regions.RegionConfig `mapstructure:"available" yaml:"available"`
}

type MigrationConfig struct {
	BatchSize        int           `mapstructure:"batchSize" yaml:"batchSize"`
	VerifyBlobHashes bool          `mapstructure:"verifyBlobHashes" yaml:"verifyBlobHashes"`
	Lock             bool          `mapstructure:"lock" yaml:"lock"`
	LockTimeout      time.Duration `mapstructure:"lockTimeout" yaml:"lockTimeout"`
	Ledger           bool          `mapstructure:"ledger" yaml:"ledger"`
	StaleRunAfter    time.Duration `mapstructure:"staleRunAfter" yaml:"staleRunAfter"`
	RetentionDays    int           `mapstructure:"retentionDays" yaml:"retentionDays"`
	RequestedBy      string        `mapstructure:"requestedBy" yaml:"requestedBy"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
}

func setDefaults(v *viper.Viper) {
	for _, prefix := range []string{"source", "regions.main"} {
		v.SetDefault(prefix+".db.type", regions.DBTypePostgres)
		v.SetDefault(prefix+".db.dsn", "")
		v.SetDefault(prefix+".storage.type", regions.StorageTypeS3)
		v.SetDefault(prefix+".storage.endpoint", "")
		v.SetDefault(prefix+".storage.region", "")
		v.SetDefault(prefix+".storage.bucket", "")
		v.SetDefault(prefix+".storage.accessKey", "")
		v.SetDefault(prefix+".storage.secretKey", "")
		v.SetDefault(prefix+".storage.forcePathStyle", false)
	}

	lock := ha.DefaultLockConfig()
	ledger := jobs.DefaultLedgerConfig()
	v.SetDefault("migration.batchSize", store.DefaultBatchSize)
	v.SetDefault("migration.verifyBlobHashes", false)
	v.SetDefault("migration.lock", lock.Enabled)
	v.SetDefault("migration.lockTimeout", lock.Timeout)
	v.SetDefault("migration.ledger", ledger.Enabled)
	v.SetDefault("migration.staleRunAfter", ledger.StaleAfter)
	v.SetDefault("migration.retentionDays", ledger.RetentionDays)
	v.SetDefault("migration.requestedBy", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
}

// Load reads file (optional) and the given .env files, then applies
// environment overrides. Missing .env files are ignored.
func Load(file string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command relies on. Region connection
// material is validated again when the registry is built.
func (c *Config) Validate() error {
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration.batchSize must be positive, got %d", c.Migration.BatchSize)
	}
	if c.Regions.Main.DB.DSN == "" {
		return errors.New("regions.main.db.dsn is required")
	}
	if err := c.Regions.Main.Validate(); err != nil {
		return fmt.Errorf("regions.main: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateSource checks the source deployment, needed only by commands that
// read from it.
func (c *Config) ValidateSource() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}

// NewRegistry builds the destination region registry.
func (c *Config) NewRegistry(opts ...regions.RegistryOption) (*regions.Registry, error) {
	return regions.NewRegistry(c.Regions.Main, c.Regions.Available, opts...)
}

// LockConfig returns the run lock settings.
func (c *Config) LockConfig() *ha.LockConfig {
	cfg := ha.DefaultLockConfig()
	cfg.Enabled = c.Migration.Lock
	if c.Migration.LockTimeout > 0 {
		cfg.Timeout = c.Migration.LockTimeout
	}
	return cfg
}

// LedgerConfig returns the run ledger settings.
func (c *Config) LedgerConfig() *jobs.LedgerConfig {
	cfg := jobs.DefaultLedgerConfig()
	cfg.Enabled = c.Migration.Ledger
	if c.Migration.StaleRunAfter > 0 {
		cfg.StaleAfter = c.Migration.StaleRunAfter
	}
	if c.Migration.RetentionDays > 0 {
		cfg.RetentionDays = c.Migration.RetentionDays
	}
	return cfg
}
