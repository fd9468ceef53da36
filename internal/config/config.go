// Package config loads process configuration the way
// 0xtitan6-polymarket-mm/internal/config does: a viper instance reads a
// YAML file, ARB_* environment variables override, mapstructure tags
// drive Unmarshal, and Validate() performs the required-field/range
// checks spec §6 calls for ("invalid numeric values fall back to
// defaults; invalid logical values ... cause init failure").
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// VenueConfig holds one venue's REST credentials, or DemoMode for a
// simulated backend with no real credentials.
type VenueConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	DemoMode  bool   `mapstructure:"demo_mode"`
}

// StoreConfig points at the key-value/pub-sub server used for the
// persisted tick stream (§6: "Every forwarded tick is written as SET
// key value + PUBLISH key value").
type StoreConfig struct {
	RedisURL string `mapstructure:"redis_url"`
}

// Tuning holds the ten tuning variables named in spec §6, each with a
// documented default used when the env/YAML value is absent or out of
// range. A value that does not parse as a number is not replaced by its
// default: Load returns the Unmarshal error instead.
type Tuning struct {
	SyntheticSpreadBps    float64  `mapstructure:"synthetic_spread_bps"`
	SyntheticFundingDelta float64  `mapstructure:"synthetic_funding_delta"`
	EstimatedPositionSize float64  `mapstructure:"estimated_position_size"`
	MaxConcurrentTrades   int      `mapstructure:"max_concurrent_trades"`
	SymbolsToTrade        []string `mapstructure:"symbols_to_trade"`
	MinSpreadBps          float64  `mapstructure:"min_spread_bps"`
	MinConfidence         int      `mapstructure:"min_confidence"`
	MaxReprices           int      `mapstructure:"max_reprices"`
	TotalTimeoutSeconds   int      `mapstructure:"total_timeout_seconds"`
	DryRun                bool     `mapstructure:"dry_run"`
}

// DefaultTuning returns the documented defaults for every tuning
// variable. Load starts from these and overlays YAML/env values.
func DefaultTuning() Tuning {
	return Tuning{
		SyntheticSpreadBps:    15.0,
		SyntheticFundingDelta: 0.0002,
		EstimatedPositionSize: 5000.0,
		MaxConcurrentTrades:   5,
		SymbolsToTrade:        []string{"BTCUSDT", "ETHUSDT"},
		MinSpreadBps:          10.0,
		MinConfidence:         70,
		MaxReprices:           5,
		TotalTimeoutSeconds:   3,
		DryRun:                true,
	}
}

// Config is the top-level process configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Venues  []VenueConfig `mapstructure:"venues"`
	Tuning  Tuning        `mapstructure:"tuning"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Load reads configuration from an optional YAML file at path (if
// empty, only defaults + env are used), with ARB_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultTuning()
	v.SetDefault("tuning.synthetic_spread_bps", def.SyntheticSpreadBps)
	v.SetDefault("tuning.synthetic_funding_delta", def.SyntheticFundingDelta)
	v.SetDefault("tuning.estimated_position_size", def.EstimatedPositionSize)
	v.SetDefault("tuning.max_concurrent_trades", def.MaxConcurrentTrades)
	v.SetDefault("tuning.symbols_to_trade", def.SymbolsToTrade)
	v.SetDefault("tuning.min_spread_bps", def.MinSpreadBps)
	v.SetDefault("tuning.min_confidence", def.MinConfidence)
	v.SetDefault("tuning.max_reprices", def.MaxReprices)
	v.SetDefault("tuning.total_timeout_seconds", def.TotalTimeoutSeconds)
	v.SetDefault("tuning.dry_run", def.DryRun)
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("logging.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	sanitizeTuning(&cfg.Tuning)

	return &cfg, nil
}

// sanitizeTuning replaces out-of-range numeric fields with their
// documented defaults, per §6 ("invalid numeric values fall back to
// defaults"). This includes non-positive position size, trade count,
// reprice count and timeout, which are replaced rather than rejected;
// a negative min_spread_bps is left for Validate to reject outright.
func sanitizeTuning(t *Tuning) {
	def := DefaultTuning()
	if t.SyntheticSpreadBps < 0 {
		t.SyntheticSpreadBps = def.SyntheticSpreadBps
	}
	if t.EstimatedPositionSize <= 0 {
		t.EstimatedPositionSize = def.EstimatedPositionSize
	}
	if t.MaxConcurrentTrades <= 0 {
		t.MaxConcurrentTrades = def.MaxConcurrentTrades
	}
	if t.MinConfidence < 0 || t.MinConfidence > 100 {
		t.MinConfidence = def.MinConfidence
	}
	if t.MaxReprices <= 0 {
		t.MaxReprices = def.MaxReprices
	}
	if t.TotalTimeoutSeconds <= 0 {
		t.TotalTimeoutSeconds = def.TotalTimeoutSeconds
	}
}

// Validate rejects configurations spec §6 calls fatal construction
// errors: negative spread, zero size, empty symbol list, no venues.
func (c *Config) Validate() error {
	if c.Store.RedisURL == "" {
		return fmt.Errorf("store.redis_url is required")
	}
	if len(c.Tuning.SymbolsToTrade) == 0 {
		return fmt.Errorf("tuning.symbols_to_trade must be non-empty")
	}
	if c.Tuning.MinSpreadBps < 0 {
		return fmt.Errorf("tuning.min_spread_bps must be >= 0")
	}
	if c.Tuning.EstimatedPositionSize <= 0 {
		return fmt.Errorf("tuning.estimated_position_size must be > 0")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue entry missing name")
		}
		if !v.DemoMode && (v.APIKey == "" || v.APISecret == "") {
			return fmt.Errorf("venue %q: api_key/api_secret required unless demo_mode is set", v.Name)
		}
	}
	return nil
}
