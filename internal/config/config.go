// Package config loads the alertrun YAML configuration and applies
// environment-variable overrides on top of baked-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig describes the time-series store connection and pool bounds.
type StoreConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN builds the libpq connection string.
func (c StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// BackoffConfig holds retry backoff bounds: base, max, jitter in ms.
type BackoffConfig struct {
	BaseMS   int `yaml:"base_ms"`
	MaxMS    int `yaml:"max_ms"`
	JitterMS int `yaml:"jitter_ms"`
}

// PipelineConfig configures one ingestion pipeline's cadence and limits.
type PipelineConfig struct {
	CadenceSeconds     int `yaml:"cadence_seconds"`
	ConcurrencyCap     int `yaml:"concurrency_cap"`
	RPS                int `yaml:"rps"`
	Burst              int `yaml:"burst"`
	MaxConsecutiveFail int `yaml:"max_consecutive_failures"`
}

// ExchangeConfig carries REST/WS endpoints and universe cache settings.
type ExchangeConfig struct {
	RESTBaseURL       string        `yaml:"rest_base_url"`
	WSBaseURL         string        `yaml:"ws_base_url"`
	UniverseTTL       time.Duration `yaml:"universe_ttl"`
	UniverseRefresh   time.Duration `yaml:"universe_refresh"`
	BlacklistTTL      time.Duration `yaml:"blacklist_ttl"`
	StreamsPerSocket  int           `yaml:"streams_per_socket"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	RedisAddr         string        `yaml:"redis_addr"`
	Backoff           BackoffConfig `yaml:"backoff"`
}

// SchedulerConfig configures the composite engine's tick cadence.
type SchedulerConfig struct {
	BaseStep time.Duration `yaml:"base_step"`
}

// NotificationConfig holds the push-channel credentials.
type NotificationConfig struct {
	PlatformToken string `yaml:"platform_token"`
}

// HTTPConfig configures the status HTTP/WS surface.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Config is the root document loaded from YAML.
type Config struct {
	LogLevel     string                    `yaml:"log_level"`
	Store        StoreConfig               `yaml:"store"`
	Exchange     ExchangeConfig            `yaml:"exchange"`
	Pipelines    map[string]PipelineConfig `yaml:"pipelines"`
	Scheduler    SchedulerConfig           `yaml:"scheduler"`
	Notification NotificationConfig        `yaml:"notification"`
	HTTP         HTTPConfig                `yaml:"http"`
}

// Default returns a config with production-sane defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Host: "127.0.0.1", Port: 5432, User: "alertrun", Database: "alertrun",
			SSLMode: "disable", MaxOpenConns: 40, MaxIdleConns: 10,
			ConnMaxLifetime: 30 * time.Minute, QueryTimeout: 30 * time.Second,
		},
		Exchange: ExchangeConfig{
			RESTBaseURL: "https://fapi.binance.com", WSBaseURL: "wss://fstream.binance.com/stream",
			UniverseTTL: 60 * time.Second, UniverseRefresh: time.Hour,
			BlacklistTTL: time.Hour, StreamsPerSocket: 50,
			ReconnectInterval: time.Hour, HTTPTimeout: 10 * time.Second,
			RedisAddr: "127.0.0.1:6379",
			Backoff:   BackoffConfig{BaseMS: 500, MaxMS: 300000, JitterMS: 250},
		},
		Pipelines: map[string]PipelineConfig{
			"price":         {CadenceSeconds: 1, ConcurrencyCap: 20, RPS: 20, Burst: 40, MaxConsecutiveFail: 5},
			"volume":        {CadenceSeconds: 5, ConcurrencyCap: 10, RPS: 10, Burst: 20, MaxConsecutiveFail: 5},
			"trade_count":   {CadenceSeconds: 60, ConcurrencyCap: 10, RPS: 10, Burst: 20, MaxConsecutiveFail: 5},
			"open_interest": {CadenceSeconds: 60, ConcurrencyCap: 10, RPS: 10, Burst: 20, MaxConsecutiveFail: 5},
			"funding":       {CadenceSeconds: 60, ConcurrencyCap: 5, RPS: 5, Burst: 10, MaxConsecutiveFail: 5},
		},
		Scheduler: SchedulerConfig{BaseStep: 5 * time.Second},
		HTTP: HTTPConfig{
			Host: "127.0.0.1", Port: 8090,
			ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second,
		},
	}
}

// Load reads a YAML document from path, merging it over Default(), then
// applies environment overrides for the handful of secrets/operational
// knobs that should never live in a checked-in file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTRUN_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("ALERTRUN_STORE_HOST"); v != "" {
		cfg.Store.Host = v
	}
	if v := os.Getenv("ALERTRUN_NOTIFICATION_TOKEN"); v != "" {
		cfg.Notification.PlatformToken = v
	}
	if v := os.Getenv("ALERTRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ALERTRUN_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
}
