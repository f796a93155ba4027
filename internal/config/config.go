// Package config loads and validates mdcore's runtime configuration: the
// set of exchange connectors to run, per-connector symbol/display mapping,
// and the ring-buffer/work-queue/aggregation tuning knobs spec.md §6 lists
// as "Configuration (enumerated)".
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	validator "github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Environment is the venue environment a connector targets.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTestnet     Environment = "testnet"
)

// AggregationLevel is the bucket width C8 series are built with (spec.md §6).
type AggregationLevel string

const (
	AggregationMs100 AggregationLevel = "Ms100"
	AggregationMs500 AggregationLevel = "Ms500"
	AggregationS1    AggregationLevel = "S1"
	AggregationS5    AggregationLevel = "S5"
)

// Duration returns the bucket width a level corresponds to. Unknown levels
// default to 1s.
func (a AggregationLevel) Duration() time.Duration {
	switch a {
	case AggregationMs100:
		return 100 * time.Millisecond
	case AggregationMs500:
		return 500 * time.Millisecond
	case AggregationS1:
		return time.Second
	case AggregationS5:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// ConnectorConfig configures one provider; one connector is run for each
// entry in Symbols.
type ConnectorConfig struct {
	Provider   string `mapstructure:"provider" validate:"required"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	// Symbols maps exchange symbol to display symbol, e.g. "XBTUSD(BTC-USD)".
	Symbols []string `mapstructure:"symbols" validate:"required,min=1"`

	DepthLevels           int    `mapstructure:"depth_levels" validate:"min=1,max=1000"`
	UpdateIntervalMs      int    `mapstructure:"update_interval_ms" validate:"min=0"`
	Environment           Environment `mapstructure:"environment" validate:"required,oneof=production testnet"`
	ConnectionTimeoutMs   int    `mapstructure:"connection_timeout_ms" validate:"min=1"`
	MaxReconnectAttempts  int    `mapstructure:"max_reconnect_attempts" validate:"min=0"`
	EnableDebugLogging    bool   `mapstructure:"enable_debug_logging"`
}

// Config is mdcore's full runtime configuration (spec.md §6).
type Config struct {
	SchemaVersion string `mapstructure:"schema_version" validate:"required"`

	Connectors []ConnectorConfig `mapstructure:"connectors" validate:"required,min=1,dive"`

	AggregationLevel AggregationLevel `mapstructure:"aggregation_level" validate:"required,oneof=Ms100 Ms500 S1 S5"`

	RingBufferCapacity uint64 `mapstructure:"ring_buffer_capacity" validate:"required"`

	WorkQueue struct {
		WarnDepth     int `mapstructure:"warn_depth" validate:"min=1"`
		CriticalDepth int `mapstructure:"critical_depth" validate:"min=1,gtefield=WarnDepth"`
	} `mapstructure:"work_queue"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var validate = validator.New()

// minSupportedSchema is the lowest config schema_version this build accepts;
// checked with Masterminds/semver so older deployed config files fail fast
// with a clear version error instead of an obscure unmarshal mismatch.
var minSupportedSchema = semver.MustParse("1.0.0")

var (
	cfg      *Config
	cfgOnce  sync.Once
	cfgErr   error

	// symbolCache caches exchange->display symbol parses with a TTL so
	// repeat lookups of the same raw string don't re-parse the
	// EXCHSYM(DISPLAY) grammar (spec.md §6 "symbols[] with display mapping").
	symbolCache = cache.New(10*time.Minute, 10*time.Minute)
)

// LoadConfig loads and validates configuration from configPath (a directory
// or empty for the default search path).
func LoadConfig(configPath string) (*Config, error) {
	cfgOnce.Do(func() {
		cfg = &Config{}
		setDefaults(cfg)

		v := viper.New()
		v.SetConfigName("mdcore")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/mdcore")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("MDCORE")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				cfgErr = fmt.Errorf("config: read: %w", err)
				return
			}
		}

		if err := v.Unmarshal(cfg); err != nil {
			cfgErr = fmt.Errorf("config: unmarshal: %w", err)
			return
		}

		if err := checkSchemaVersion(cfg.SchemaVersion); err != nil {
			cfgErr = err
			return
		}

		if err := validate.Struct(cfg); err != nil {
			cfgErr = fmt.Errorf("config: validation: %w", err)
			return
		}
	})

	return cfg, cfgErr
}

// GetConfig returns the process-wide configuration, loading it with
// defaults on first access.
func GetConfig() *Config {
	if cfg == nil {
		if _, err := LoadConfig(""); err != nil {
			panic(fmt.Sprintf("config: failed to load: %v", err))
		}
	}
	return cfg
}

// SaveConfig persists cfg as YAML via viper to path, for operator tooling
// that edits and re-applies configuration.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("schema_version", cfg.SchemaVersion)
	v.Set("connectors", cfg.Connectors)
	v.Set("aggregation_level", cfg.AggregationLevel)
	v.Set("ring_buffer_capacity", cfg.RingBufferCapacity)
	v.Set("work_queue", cfg.WorkQueue)
	v.Set("monitoring", cfg.Monitoring)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func checkSchemaVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("config: schema_version is required")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("config: invalid schema_version %q: %w", raw, err)
	}
	if v.LessThan(minSupportedSchema) {
		return fmt.Errorf("config: schema_version %s is older than minimum supported %s", v, minSupportedSchema)
	}
	return nil
}

func setDefaults(c *Config) {
	c.SchemaVersion = "1.0.0"
	c.AggregationLevel = AggregationS1
	c.RingBufferCapacity = 65536
	c.WorkQueue.WarnDepth = 1000
	c.WorkQueue.CriticalDepth = 10000
	c.Monitoring.PrometheusPort = 9090
	c.Monitoring.LogLevel = "info"
}

// InitLogger builds the process logger per the configured log level,
// matching the teacher's development/production split.
func InitLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("config: init logger: %w", err)
	}
	return logger, nil
}

// SymbolMapping is a parsed "EXCHSYM(DISPLAY)" entry (spec.md §6).
type SymbolMapping struct {
	Exchange string
	Display  string
}

// ParseSymbolMapping parses "EXCHSYM(DISPLAY)", caching the result so repeat
// lookups for the same raw string (e.g. across reconnects) skip re-parsing.
func ParseSymbolMapping(raw string) (SymbolMapping, error) {
	if cached, ok := symbolCache.Get(raw); ok {
		return cached.(SymbolMapping), nil
	}

	open := indexByte(raw, '(')
	if open < 0 {
		m := SymbolMapping{Exchange: raw, Display: raw}
		symbolCache.Set(raw, m, cache.DefaultExpiration)
		return m, nil
	}
	if raw[len(raw)-1] != ')' {
		return SymbolMapping{}, fmt.Errorf("config: malformed symbol mapping %q", raw)
	}
	m := SymbolMapping{Exchange: raw[:open], Display: raw[open+1 : len(raw)-1]}
	if m.Exchange == "" || m.Display == "" {
		return SymbolMapping{}, fmt.Errorf("config: malformed symbol mapping %q", raw)
	}
	symbolCache.Set(raw, m, cache.DefaultExpiration)
	return m, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
