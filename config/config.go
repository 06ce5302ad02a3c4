package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RQBridge RQBridgeConfig `yaml:"rqbridge"`
	Datafeed DatafeedConfig `yaml:"datafeed"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Channels ChannelsConfig `yaml:"channels"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type RQBridgeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type DatafeedConfig struct {
	Username       string               `yaml:"username"`
	Password       string               `yaml:"password"`
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type GatewayConfig struct {
	Name    string   `yaml:"name"`
	LiveURL string   `yaml:"live_url"`
	Symbols []string `yaml:"symbols"`
}

type ChannelsConfig struct {
	TickBuffer     int `yaml:"tick_buffer"`
	ContractBuffer int `yaml:"contract_buffer"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Gateway: GatewayConfig{
			Name: "RQDATA",
		},
		Datafeed: DatafeedConfig{
			Timeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 4,
				BurstSize:         8,
			},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    4,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when set so the YAML file
	// can be committed without secrets.
	if v := os.Getenv("RQDATA_USERNAME"); v != "" {
		config.Datafeed.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("RQDATA_PASSWORD"); v != "" {
		config.Datafeed.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("RQDATA_BASE_URL"); v != "" {
		config.Datafeed.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("RQDATA_LIVE_URL"); v != "" {
		config.Gateway.LiveURL = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.RQBridge.Name == "" {
		return fmt.Errorf("rqbridge.name is required")
	}

	if cfg.RQBridge.Version == "" {
		return fmt.Errorf("rqbridge.version is required")
	}

	if cfg.Datafeed.BaseURL == "" {
		return fmt.Errorf("datafeed.base_url is required")
	}

	if cfg.Datafeed.Timeout <= 0 {
		return fmt.Errorf("datafeed.timeout must be greater than 0")
	}

	if cfg.Datafeed.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("datafeed.rate_limit.requests_per_second must be greater than 0")
	}

	if cfg.Gateway.LiveURL == "" {
		return fmt.Errorf("gateway.live_url is required")
	}

	if cfg.Channels.TickBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer must be greater than 0")
	}

	if cfg.Channels.ContractBuffer <= 0 {
		return fmt.Errorf("channels.contract_buffer must be greater than 0")
	}

	return nil
}
