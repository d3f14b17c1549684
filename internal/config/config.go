package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Port              string `mapstructure:"port"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	LogLevel          string `mapstructure:"log_level"`
}

type Cache struct {
	Dir                string  `mapstructure:"dir"`
	RedisAddr          string  `mapstructure:"redis_addr"` // empty: filesystem durable tier
	RedisDB            int     `mapstructure:"redis_db"`
	CryptoMaxAgeSec    int     `mapstructure:"crypto_max_age_sec"`
	ETFMaxAgeSec       int     `mapstructure:"etf_max_age_sec"`
	SweepIntervalSec   int     `mapstructure:"sweep_interval_sec"`
	EvictionMultiplier float64 `mapstructure:"eviction_multiplier"`
}

func (c Cache) CryptoMaxAge() time.Duration  { return time.Duration(c.CryptoMaxAgeSec) * time.Second }
func (c Cache) ETFMaxAge() time.Duration     { return time.Duration(c.ETFMaxAgeSec) * time.Second }
func (c Cache) SweepInterval() time.Duration { return time.Duration(c.SweepIntervalSec) * time.Second }

// Retention is how long the durable tier keeps an entry before the sweep
// (or a redis TTL) reclaims it.
func (c Cache) Retention() time.Duration {
	maxAge := c.CryptoMaxAge()
	if etf := c.ETFMaxAge(); etf > maxAge {
		maxAge = etf
	}
	return time.Duration(float64(maxAge) * c.EvictionMultiplier)
}

type Provider struct {
	Enabled           bool   `mapstructure:"enabled"`
	APIKey            string `mapstructure:"api_key"`
	RequestsPerMinute int    `mapstructure:"max_requests_per_minute"`
}

type Providers struct {
	CoinGecko     Provider `mapstructure:"coingecko"`
	CryptoCompare Provider `mapstructure:"cryptocompare"`
	Yahoo         Provider `mapstructure:"yahoo"`
	AlphaVantage  Provider `mapstructure:"alphavantage"`
}

type Config struct {
	Server    Server    `mapstructure:"server"`
	Cache     Cache     `mapstructure:"cache"`
	Providers Providers `mapstructure:"providers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout_sec", 10)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.crypto_max_age_sec", 300)
	v.SetDefault("cache.etf_max_age_sec", 3600)
	v.SetDefault("cache.sweep_interval_sec", 1800)
	v.SetDefault("cache.eviction_multiplier", 2.0)

	v.SetDefault("providers.coingecko.enabled", true)
	v.SetDefault("providers.coingecko.max_requests_per_minute", 10)
	v.SetDefault("providers.cryptocompare.enabled", true)
	v.SetDefault("providers.cryptocompare.max_requests_per_minute", 20)
	v.SetDefault("providers.yahoo.enabled", true)
	v.SetDefault("providers.yahoo.max_requests_per_minute", 30)
	v.SetDefault("providers.alphavantage.enabled", true)
	v.SetDefault("providers.alphavantage.max_requests_per_minute", 5)
}

// Load reads YAML config from path, or config.yaml in the working directory
// when path is empty, falling back to defaults when neither exists.
// PRICEFEED_* environment variables override file values
// (e.g. PRICEFEED_SERVER_PORT); API keys additionally come from their
// conventional variables so secrets stay out of config files.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PRICEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyCredentialEnv(&cfg)
	return cfg, nil
}

func applyCredentialEnv(cfg *Config) {
	if k := os.Getenv("CRYPTOCOMPARE_API_KEY"); k != "" {
		cfg.Providers.CryptoCompare.APIKey = k
	}
	if k := os.Getenv("ALPHAVANTAGE_API_KEY"); k != "" {
		cfg.Providers.AlphaVantage.APIKey = k
	}
	if k := os.Getenv("COINGECKO_API_KEY"); k != "" {
		cfg.Providers.CoinGecko.APIKey = k
	}
}
