// Package config handles configuration loading for landlinked.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	Cache   CacheConfig   `mapstructure:"cache"   yaml:"cache"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"`
	Sources SourcesConfig `mapstructure:"sources" yaml:"sources"`
	Update  UpdateConfig  `mapstructure:"update"  yaml:"update"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DataConfig points at the static reference data.
type DataConfig struct {
	Catalogue    string `mapstructure:"catalogue"     yaml:"catalogue"`     // indicator catalogue (YAML)
	CountryCodes string `mapstructure:"country_codes" yaml:"country_codes"` // country code table (JSON)
	GroupsDir    string `mapstructure:"groups_dir"    yaml:"groups_dir"`    // one {code}.json per group
}

// CacheConfig holds the indicator cache settings.
type CacheConfig struct {
	Dir          string `mapstructure:"dir"           yaml:"dir"`
	ValidityDays int    `mapstructure:"validity_days" yaml:"validity_days"`
}

// Validity returns the cache validity window.
func (c CacheConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// FetchConfig holds the download batching and retry settings shared by
// all sources.
type FetchConfig struct {
	BatchSize    int           `mapstructure:"batch_size"    yaml:"batch_size"`
	MaxWorkers   int           `mapstructure:"max_workers"   yaml:"max_workers"`
	PageWorkers  int           `mapstructure:"page_workers"  yaml:"page_workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"  yaml:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	StartYear    int           `mapstructure:"start_year"    yaml:"start_year"`
	EndYear      int           `mapstructure:"end_year"      yaml:"end_year"`
}

// SourceConfig holds per-source endpoint and politeness settings.
type SourceConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Delay   time.Duration `mapstructure:"delay"    yaml:"delay"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"`
}

// IMFConfig extends SourceConfig with the projection horizon.
type IMFConfig struct {
	SourceConfig    `mapstructure:",squash" yaml:",inline"`
	ForecastEndYear int `mapstructure:"forecast_end_year" yaml:"forecast_end_year"`
}

// SourcesConfig groups the four source configurations.
type SourcesConfig struct {
	WorldBank SourceConfig `mapstructure:"worldbank" yaml:"worldbank"`
	UNSDG     SourceConfig `mapstructure:"unsdg"     yaml:"unsdg"`
	FAOSTAT   SourceConfig `mapstructure:"faostat"   yaml:"faostat"`
	IMF       IMFConfig    `mapstructure:"imf"       yaml:"imf"`
}

// UpdateConfig holds the batch driver settings.
type UpdateConfig struct {
	Groups      []string `mapstructure:"groups"       yaml:"groups"`
	Schedule    string   `mapstructure:"schedule"     yaml:"schedule"`     // cron spec, empty = run once
	MetricsFile string   `mapstructure:"metrics_file" yaml:"metrics_file"` // Prometheus textfile output
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.landlinked/config.yaml (home directory)
//  3. /etc/landlinked/config.yaml (system)
//
// Environment variables override config file values.
// Format: LANDLINKED_<SECTION>_<KEY>, e.g., LANDLINKED_CACHE_DIR
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".landlinked"))
	v.AddConfigPath("/etc/landlinked")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

// Default returns the built-in configuration with environment overrides
// applied and no config file.
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LANDLINKED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultGroups is the group list processed by the batch driver when none
// is configured.
var DefaultGroups = []string{"lldcs", "ldcs", "sids", "g77", "brics", "eu", "oecd", "g20", "aosis", "lmcs", "lics"}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Reference data
	v.SetDefault("data.catalogue", "./data/indicators.yaml")
	v.SetDefault("data.country_codes", "./data/countrycodes.json")
	v.SetDefault("data.groups_dir", "./data/groups")

	// Cache
	v.SetDefault("cache.dir", "./cache/indicators")
	v.SetDefault("cache.validity_days", 30)

	// Fetch
	v.SetDefault("fetch.batch_size", 20)
	v.SetDefault("fetch.max_workers", 8)
	v.SetDefault("fetch.page_workers", 4)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.retry_backoff", "1s")
	v.SetDefault("fetch.start_year", 2010)
	v.SetDefault("fetch.end_year", 2025)

	// Sources
	v.SetDefault("sources.worldbank.base_url", "https://api.worldbank.org/v2")
	v.SetDefault("sources.worldbank.delay", "500ms")
	v.SetDefault("sources.worldbank.timeout", "10s")
	v.SetDefault("sources.unsdg.base_url", "https://unstats.un.org/sdgs/UNSDGAPIV5/v1/sdg")
	v.SetDefault("sources.unsdg.delay", "300ms")
	v.SetDefault("sources.unsdg.timeout", "30s")
	v.SetDefault("sources.faostat.base_url", "https://fenixservices.fao.org/faostat/api/v1/en")
	v.SetDefault("sources.faostat.delay", "500ms")
	v.SetDefault("sources.faostat.timeout", "30s")
	v.SetDefault("sources.imf.base_url", "https://www.imf.org/external/datamapper/api/v1")
	v.SetDefault("sources.imf.delay", "500ms")
	v.SetDefault("sources.imf.timeout", "30s")
	v.SetDefault("sources.imf.forecast_end_year", 2030)

	// Batch driver
	v.SetDefault("update.groups", DefaultGroups)
	v.SetDefault("update.schedule", "")
	v.SetDefault("update.metrics_file", "")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate rejects settings the fetch layer cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Cache.ValidityDays < 0:
		return fmt.Errorf("config: cache.validity_days must not be negative, got %d", c.Cache.ValidityDays)
	case c.Fetch.BatchSize < 1:
		return fmt.Errorf("config: fetch.batch_size must be positive, got %d", c.Fetch.BatchSize)
	case c.Fetch.MaxWorkers < 1:
		return fmt.Errorf("config: fetch.max_workers must be positive, got %d", c.Fetch.MaxWorkers)
	case c.Fetch.PageWorkers < 1:
		return fmt.Errorf("config: fetch.page_workers must be positive, got %d", c.Fetch.PageWorkers)
	case c.Fetch.MaxAttempts < 1:
		return fmt.Errorf("config: fetch.max_attempts must be positive, got %d", c.Fetch.MaxAttempts)
	case c.Fetch.EndYear < c.Fetch.StartYear:
		return fmt.Errorf("config: fetch.end_year %d is before fetch.start_year %d", c.Fetch.EndYear, c.Fetch.StartYear)
	case c.Sources.IMF.ForecastEndYear < c.Fetch.EndYear:
		return fmt.Errorf("config: sources.imf.forecast_end_year %d is before fetch.end_year %d", c.Sources.IMF.ForecastEndYear, c.Fetch.EndYear)
	}
	return nil
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
