// Package config loads netviz's runtime configuration: an optional
// YAML file overlaid with environment variable overrides, following
// the pattern set by the teacher service's config package.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Kernel KernelConfig `yaml:"kernel"`
	Broker BrokerConfig `yaml:"broker"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type StoreConfig struct {
	MaxConnections   int `yaml:"max_connections"`
	RetentionMinutes int `yaml:"retention_minutes"`
}

type KernelConfig struct {
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

type BrokerConfig struct {
	RedisAddr              string `yaml:"redis_addr"`
	RateLimitPerSecond     int    `yaml:"rate_limit_per_second"`
	StatisticsIntervalSecs int    `yaml:"statistics_interval_secs"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton configuration, loading it on
// first use.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load(getEnv("NETVIZ_CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// Load reads a YAML config file. A missing file is not an error at
// the call site in Get — callers that need a hard failure should
// check the returned error themselves.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("NETVIZ_PORT", c.Server.Port)
	if v := getEnvInt("NETVIZ_MAX_CONNECTIONS", 0); v > 0 {
		c.Store.MaxConnections = v
	}
	if v := getEnvInt("NETVIZ_RETENTION_MINUTES", 0); v > 0 {
		c.Store.RetentionMinutes = v
	}
	c.Broker.RedisAddr = getEnv("NETVIZ_REDIS_ADDR", c.Broker.RedisAddr)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"http://localhost:3000"}
	}
	if c.Store.MaxConnections == 0 {
		c.Store.MaxConnections = 10000
	}
	if c.Store.RetentionMinutes == 0 {
		c.Store.RetentionMinutes = 5
	}
	if c.Kernel.PollTimeoutMs == 0 {
		c.Kernel.PollTimeoutMs = 100
	}
	if c.Broker.RateLimitPerSecond == 0 {
		c.Broker.RateLimitPerSecond = 100
	}
	if c.Broker.StatisticsIntervalSecs == 0 {
		c.Broker.StatisticsIntervalSecs = 30
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
