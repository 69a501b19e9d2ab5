// Package config provides configuration management for the importer.
// Values come from a YAML config file with environment-variable
// overrides; secrets (the destination API token) come from the
// environment or a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode cap defaults.
const (
	defaultBackfillPerSite = 75
	defaultBackfillTotal   = 1500
	defaultDeltaPerSite    = 40
	defaultDeltaTotal      = 800
)

// HTTP defaults.
const (
	defaultRequestTimeout = 30 * time.Second
	defaultBaseDelay      = 2 * time.Second
	defaultUserAgent      = "recipeharvest/1.0 (+https://github.com/jonesrussell/recipeharvest)"
)

// File path defaults, relative to the working directory.
const (
	defaultLedgerPath    = "data/ledger.db"
	defaultSourcesPath   = "config/sources.yaml"
	defaultAllowlistPath = "config/allowlist.yaml"
	defaultRunLogPath    = "data/import.log"
)

// MealieConfig holds destination connection settings.
type MealieConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// ModeCaps bound how many URLs a single run may ingest.
type ModeCaps struct {
	PerSite int `mapstructure:"per_site"`
	Total   int `mapstructure:"total"`
}

// HTTPConfig holds outbound fetching settings.
type HTTPConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Config is the root application configuration.
type Config struct {
	Mealie        MealieConfig  `mapstructure:"mealie"`
	Backfill      ModeCaps      `mapstructure:"backfill"`
	Delta         ModeCaps      `mapstructure:"delta"`
	HTTP          HTTPConfig    `mapstructure:"http"`
	Logging       LoggingConfig `mapstructure:"logging"`
	LedgerPath    string        `mapstructure:"ledger_path"`
	SourcesPath   string        `mapstructure:"sources_path"`
	AllowlistPath string        `mapstructure:"allowlist_path"`
	RunLogPath    string        `mapstructure:"run_log_path"`
}

// Load reads configuration from the given file (optional) plus the
// environment, applies defaults and validates the result.
func Load(configFile string) (*Config, error) {
	// .env is a development convenience; a missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RECIPEHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvAliases(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		// Missing file is fine; env and defaults still apply.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backfill.per_site", defaultBackfillPerSite)
	v.SetDefault("backfill.total", defaultBackfillTotal)
	v.SetDefault("delta.per_site", defaultDeltaPerSite)
	v.SetDefault("delta.total", defaultDeltaTotal)

	v.SetDefault("http.request_timeout", defaultRequestTimeout)
	v.SetDefault("http.base_delay", defaultBaseDelay)
	v.SetDefault("http.user_agent", defaultUserAgent)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)

	v.SetDefault("ledger_path", defaultLedgerPath)
	v.SetDefault("sources_path", defaultSourcesPath)
	v.SetDefault("allowlist_path", defaultAllowlistPath)
	v.SetDefault("run_log_path", defaultRunLogPath)
}

// bindEnvAliases supports the conventional unprefixed names for the
// destination settings alongside the prefixed forms.
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("mealie.base_url", "RECIPEHARVEST_MEALIE_BASE_URL", "MEALIE_BASE_URL")
	_ = v.BindEnv("mealie.token", "RECIPEHARVEST_MEALIE_TOKEN", "MEALIE_TOKEN")
}

// Validate checks value ranges. Destination credentials are checked
// separately, only by commands that talk to the destination.
func (c *Config) Validate() error {
	for name, caps := range map[string]ModeCaps{"backfill": c.Backfill, "delta": c.Delta} {
		if caps.PerSite <= 0 || caps.Total <= 0 {
			return fmt.Errorf("%s caps must be positive", name)
		}
	}

	if c.HTTP.BaseDelay <= 0 {
		return errors.New("http base delay must be positive")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("http request timeout must be positive")
	}

	return nil
}

// ValidateDestination checks that destination connection settings are
// present. A missing token is fatal for any command that imports.
func (c *Config) ValidateDestination() error {
	if c.Mealie.BaseURL == "" {
		return errors.New("mealie base URL is required (MEALIE_BASE_URL)")
	}
	if !strings.HasPrefix(c.Mealie.BaseURL, "http://") && !strings.HasPrefix(c.Mealie.BaseURL, "https://") {
		return fmt.Errorf("mealie base URL must be http(s): %q", c.Mealie.BaseURL)
	}
	if c.Mealie.Token == "" {
		return errors.New("mealie API token is required (MEALIE_TOKEN)")
	}

	return nil
}

// CapsForMode returns the caps for the named run mode.
func (c *Config) CapsForMode(mode string) (ModeCaps, error) {
	switch mode {
	case "backfill":
		return c.Backfill, nil
	case "delta":
		return c.Delta, nil
	default:
		return ModeCaps{}, fmt.Errorf("unknown mode %q (want backfill or delta)", mode)
	}
}
