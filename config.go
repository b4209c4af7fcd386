package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service/coingecko"
	"github.com/kylycht/valutatrade/service/forex"
	"github.com/kylycht/valutatrade/service/updater"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort  string `yaml:"http_port"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	PivotCurrency         string `yaml:"pivot_currency"`
	RatesTTLSeconds       int    `yaml:"rates_ttl_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	RatesFilePath         string `yaml:"rates_file_path"`
	HistoryFilePath       string `yaml:"history_file_path"`

	ExchangeAPIKey string            `yaml:"exchangerate_api_key"`
	ExchangeURL    string            `yaml:"exchangerate_url"`
	CoinGeckoURL   string            `yaml:"coingecko_url"`
	CryptoIDs      map[string]string `yaml:"crypto_ids"`
	Sources        []string          `yaml:"sources"` // provider keys in merge order

	Update   UpdateConfig   `yaml:"update"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// KafkaConfig enables rate update events when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type UpdateConfig struct {
	Schedule          string `yaml:"schedule"` // cron spec, empty disables the job
	Parallelism       int    `yaml:"parallelism"`
	OnProviderFailure string `yaml:"on_provider_failure"`
	MaxAttempts       int    `yaml:"max_attempts"` // provider tries per fetch, first one included
	InitialBackoffMS  int    `yaml:"initial_backoff_ms"`

	RequestsPerSecond float64 `yaml:"requests_per_second"` // provider request rate, 0 means one per second
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"user_agent"`
}

// DatabaseConfig points at the optional Postgres currency registry.
// Built-in currencies are used when Host is empty.
type DatabaseConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
}

func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Name,
	)
}

func (c Config) RatesTTL() time.Duration {
	return time.Duration(c.RatesTTLSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.Update.InitialBackoffMS) * time.Millisecond
}

func defaultConfig() Config {
	ids := make(map[string]string, len(coingecko.DefaultIDs))
	for code, id := range coingecko.DefaultIDs {
		ids[code] = id
	}

	return Config{
		HTTPPort:              ":3000",
		LogLevel:              "info",
		PivotCurrency:         "USD",
		RatesTTLSeconds:       300,
		RequestTimeoutSeconds: 10,
		RatesFilePath:         "data/rates.json",
		HistoryFilePath:       "data/exchange_rates.json",
		CryptoIDs:             ids,
		Sources:               []string{coingecko.Key, forex.Key},
		Update: UpdateConfig{
			Parallelism:       1,
			OnProviderFailure: string(updater.Replace),
			MaxAttempts:       4,
			InitialBackoffMS:  1000,
			RequestsPerSecond: 1,
			Burst:             10,
			UserAgent:         "valutatrade/1.0",
		},
	}
}

// LoadConfig reads path over the defaults and applies .env and
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("no configuration file, using defaults")
	case err != nil:
		return Config{}, fmt.Errorf("%w: unable to read %s: %v", model.ErrConfiguration, path, err)
	default:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: unable to parse %s: %v", model.ErrConfiguration, path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("unable to read .env file")
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.ExchangeAPIKey == "" {
		log.Warn().Msg("EXCHANGERATE_API_KEY is not set, fiat rates will not be fetched")
	}

	return cfg, nil
}

// applyEnv overrides file values with the process environment.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"EXCHANGERATE_API_KEY": &c.ExchangeAPIKey,
		"PIVOT_CURRENCY":       &c.PivotCurrency,
		"LOG_LEVEL":            &c.LogLevel,
		"RATES_FILE_PATH":      &c.RatesFilePath,
		"HISTORY_FILE_PATH":    &c.HistoryFilePath,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	ints := map[string]*int{
		"RATES_TTL_SECONDS":       &c.RatesTTLSeconds,
		"REQUEST_TIMEOUT_SECONDS": &c.RequestTimeoutSeconds,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", model.ErrConfiguration, name, v)
		}
		*dst = n
	}

	return nil
}

func (c *Config) validate() error {
	pivot, err := model.NormalizeCode(c.PivotCurrency)
	if err != nil {
		return fmt.Errorf("%w: invalid pivot currency: %v", model.ErrConfiguration, err)
	}
	c.PivotCurrency = pivot

	if c.RatesTTLSeconds <= 0 {
		return fmt.Errorf("%w: rates_ttl_seconds must be positive", model.ErrConfiguration)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: request_timeout_seconds must be positive", model.ErrConfiguration)
	}
	if c.Update.MaxAttempts < 1 {
		return fmt.Errorf("%w: update.max_attempts must be at least 1", model.ErrConfiguration)
	}
	if c.Update.RequestsPerSecond < 0 || c.Update.Burst < 0 {
		return fmt.Errorf("%w: update.requests_per_second and update.burst must not be negative", model.ErrConfiguration)
	}
	if c.Update.Parallelism < 1 {
		c.Update.Parallelism = 1
	}
	if _, err := updater.ParsePolicy(c.Update.OnProviderFailure); err != nil {
		return err
	}

	for i, src := range c.Sources {
		src = strings.ToLower(strings.TrimSpace(src))
		if src != coingecko.Key && src != forex.Key {
			return fmt.Errorf("%w: unknown source %q", model.ErrConfiguration, src)
		}
		c.Sources[i] = src
	}

	return nil
}
