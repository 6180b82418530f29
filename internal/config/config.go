// Package config loads the ratechat runtime configuration from the environment,
// applying defaults and sanitizing values that would leave the relay unusable.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	defaultHost            = "localhost"
	defaultPort            = "8080"
	defaultMaxMessageSize  = 1 << 20
	defaultRefillInterval  = time.Second
	defaultSendBufferSize  = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultExchangeTimeout = 5 * time.Second
	defaultTriggerKeyword  = "exchange"
)

// Config holds the relay configuration. Every field can be set through the
// environment variable named in its env tag.
type Config struct {
	Host           string `env:"HOST" default:"localhost"`
	Port           string `env:"SERVER_PORT" default:"8080"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" default:"http://localhost:8080"`

	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST" default:"0"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE" default:"256"`
	WriteTimeout            time.Duration `env:"WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	TriggerKeyword     string        `env:"TRIGGER_KEYWORD" default:"exchange"`
	ExchangeURL        string        `env:"EXCHANGE_URL" default:"https://api.privatbank.ua/p24api/pubinfo?exchange&coursid=5"`
	ExchangeHistoryURL string        `env:"EXCHANGE_HISTORY_URL" default:"https://api.privatbank.ua/p24api/exchange_rates?json"`
	ExchangeCurrencies string        `env:"EXCHANGE_CURRENCIES" default:"USD,EUR"`
	ExchangeTimeout    time.Duration `env:"EXCHANGE_TIMEOUT" default:"5s"`
	ExchangeCacheTTL   time.Duration `env:"EXCHANGE_CACHE_TTL" default:"1m"`
	RedisURL           string        `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// Load reads an optional .env file, then the process environment, and returns
// a sanitized and validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaults returns a Config populated with default values for all settings.
func defaults() *Config {
	cfg := &Config{
		Host:               defaultHost,
		Port:               defaultPort,
		AllowedOrigins:     "http://localhost:8080",
		TriggerKeyword:     defaultTriggerKeyword,
		ExchangeURL:        "https://api.privatbank.ua/p24api/pubinfo?exchange&coursid=5",
		ExchangeHistoryURL: "https://api.privatbank.ua/p24api/exchange_rates?json",
		ExchangeCurrencies: "USD,EUR",
		ExchangeCacheTTL:   time.Minute,
		LogLevel:           "info",
		LogFormat:          "text",
	}
	cfg.sanitize()
	return cfg
}

// sanitize replaces empty or non-positive values with their defaults.
func (c *Config) sanitize() {
	if c.Host == "" {
		c.Host = defaultHost
	}
	c.Port = strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	// Zero disables the per-session rate limit.
	if c.RateLimitBurst < 0 {
		c.RateLimitBurst = 0
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = defaultRefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaultSendBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = defaultExchangeTimeout
	}
	if c.ExchangeCacheTTL < 0 {
		c.ExchangeCacheTTL = 0
	}
	c.TriggerKeyword = strings.TrimSpace(c.TriggerKeyword)
	if c.TriggerKeyword == "" {
		c.TriggerKeyword = defaultTriggerKeyword
	}
}

// Validate reports configuration that cannot be repaired with a default.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"EXCHANGE_URL":         c.ExchangeURL,
		"EXCHANGE_HISTORY_URL": c.ExchangeHistoryURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}

	if len(c.Currencies()) == 0 {
		return errors.New("EXCHANGE_CURRENCIES must list at least one currency code")
	}

	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
	}
	return nil
}

// Addr returns the host:port the relay listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Origins returns the configured allowed origins, trimmed, with empty entries dropped.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins, false)
}

// Currencies returns the upper-cased currency codes kept from the rate feed.
func (c *Config) Currencies() []string {
	return splitList(c.ExchangeCurrencies, true)
}

func splitList(value string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}
