package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded from YAML.
type Config struct {
	App      AppConfig      `toml:"app"`
	Server   ServerConfig   `toml:"server"`
	Data     DataConfig     `toml:"data"`
	Binance  BinanceConfig  `toml:"binance"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// DataConfig locates the on-disk sqlite stores.
type DataConfig struct {
	Root string `toml:"root"`
}

type BinanceConfig struct {
	BaseURL         string        `toml:"base_url"`
	HTTPTimeout     time.Duration `toml:"http_timeout"`
	RateLimitPerMin int           `toml:"rate_limit_per_min"`
	MaxBatch        int           `toml:"max_batch"`
	MaxConcurrent   int           `toml:"max_concurrent"`
}

// BacktestConfig bounds concurrent runs and their wall-clock budget.
type BacktestConfig struct {
	MaxConcurrent int           `toml:"max_concurrent"`
	RunTimeout    time.Duration `toml:"run_timeout"`
	QueueBackoff  time.Duration `toml:"queue_backoff"`
}

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a usable configuration without a file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9980"
	}
	if c.Data.Root == "" {
		c.Data.Root = "data"
	}
	if c.Binance.BaseURL == "" {
		c.Binance.BaseURL = "https://fapi.binance.com"
	}
	if c.Binance.HTTPTimeout <= 0 {
		c.Binance.HTTPTimeout = 15 * time.Second
	}
	if c.Binance.RateLimitPerMin <= 0 {
		c.Binance.RateLimitPerMin = 480
	}
	if c.Binance.MaxBatch <= 0 {
		c.Binance.MaxBatch = 1000
	}
	if c.Binance.MaxConcurrent <= 0 {
		c.Binance.MaxConcurrent = 2
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 5
	}
	if c.Backtest.RunTimeout <= 0 {
		c.Backtest.RunTimeout = 5 * time.Minute
	}
	if c.Backtest.QueueBackoff <= 0 {
		c.Backtest.QueueBackoff = 2 * time.Second
	}
}

func validate(c *Config) error {
	if c.Backtest.MaxConcurrent > 64 {
		return fmt.Errorf("backtest.max_concurrent too large: %d", c.Backtest.MaxConcurrent)
	}
	if c.Binance.MaxBatch > 1500 {
		return fmt.Errorf("binance.max_batch exceeds exchange limit: %d", c.Binance.MaxBatch)
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.App.LogLevel)
	}
	return nil
}
