// Package config loads the backlab YAML configuration and applies
// environment variable overrides. Credentials only enter the system here and
// are injected into collaborators at construction; core logic never reads
// the environment directly.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backlab platform.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	TuShare  TuShare        `yaml:"tushare"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Sync     SyncConfig     `yaml:"sync"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// TuShare holds credentials and endpoint for the TuShare data API.
type TuShare struct {
	Token           string `yaml:"token"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Alpaca holds credentials for the Alpaca market-data API, used for US
// symbols.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SyncConfig controls incremental sync behaviour.
type SyncConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	FetchTimeoutSec int `yaml:"fetch_timeout_sec"`
	MaxRetries      int `yaml:"max_retries"`
}

// BacktestConfig defines simulation defaults.
type BacktestConfig struct {
	InitialCash    float64 `yaml:"initial_cash"`
	CommissionRate float64 `yaml:"commission_rate"`
	SlippageRate   float64 `yaml:"slippage_rate"`
	LotSize        int64   `yaml:"lot_size"`
	AbortOnReject  bool    `yaml:"abort_on_reject"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it,
// applies environment variable overrides, and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.TuShare.Token = v
	}
	if v := os.Getenv("TUSHARE_BASE_URL"); v != "" {
		cfg.TuShare.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/backlab.db"
	}
	if cfg.TuShare.BaseURL == "" {
		cfg.TuShare.BaseURL = "http://api.tushare.pro"
	}
	if cfg.TuShare.RateLimitPerMin == 0 {
		cfg.TuShare.RateLimitPerMin = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Sync.MaxConcurrent == 0 {
		cfg.Sync.MaxConcurrent = 4
	}
	if cfg.Sync.FetchTimeoutSec == 0 {
		cfg.Sync.FetchTimeoutSec = 30
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Backtest.InitialCash == 0 {
		cfg.Backtest.InitialCash = 1000000
	}
	if cfg.Backtest.CommissionRate == 0 {
		cfg.Backtest.CommissionRate = 0.001
	}
	if cfg.Backtest.SlippageRate == 0 {
		cfg.Backtest.SlippageRate = 0.001
	}
	if cfg.Backtest.LotSize == 0 {
		cfg.Backtest.LotSize = 100
	}
}
