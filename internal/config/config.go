package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the orchestrator process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the shared KV settings. Redis is optional: the L2 cache
// layer and distributed locks degrade gracefully without it.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// GatewayConfig holds the chat gateway settings for the reference transport.
type GatewayConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// EmergencyConfig holds the cross-campaign supervisor settings.
type EmergencyConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MinSample         int           `yaml:"min_sample"`
	PauseFailureRate  float64       `yaml:"pause_failure_rate"`
	WarnFailureRate   float64       `yaml:"warn_failure_rate"`
}

// RecoveryConfig holds stale-claim recovery settings.
type RecoveryConfig struct {
	Interval time.Duration `yaml:"interval"`
	StaleAge time.Duration `yaml:"stale_age"`
}

// EventsConfig holds the optional SQS analytics forwarder settings.
type EventsConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
	AWSRegion   string `yaml:"aws_region"`
}

// Load reads configuration from a YAML file with environment overrides.
// A .env file is loaded first if present (development convenience).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (config database.url or DATABASE_URL)")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Gateway: GatewayConfig{
			SendTimeout: 30 * time.Second,
		},
		Emergency: EmergencyConfig{
			SweepInterval:    60 * time.Second,
			MinSample:        20,
			PauseFailureRate: 0.05,
			WarnFailureRate:  0.03,
		},
		Recovery: RecoveryConfig{
			Interval: 2 * time.Minute,
			StaleAge: 5 * time.Minute,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("EVENTS_SQS_QUEUE_URL"); v != "" {
		cfg.Events.SQSQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Events.AWSRegion == "" {
		cfg.Events.AWSRegion = v
	}
}
