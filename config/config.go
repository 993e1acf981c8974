package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Payment  PaymentConfig  `yaml:"payment"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	RefundTasksTopic   string   `yaml:"refund_tasks_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

// GatewayConfig holds the PayOS merchant credentials. Secrets can be
// overridden through environment variables so the yaml file never has to
// carry them.
type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	ClientID    string `yaml:"client_id"`
	APIKey      string `yaml:"api_key"`
	ChecksumKey string `yaml:"checksum_key"`
	FrontendURL string `yaml:"frontend_url"`
	UseMock     bool   `yaml:"use_mock"`
}

type PaymentConfig struct {
	MinAmount           int64 `yaml:"min_amount"`
	OptionClaimTTLSecs  int   `yaml:"option_claim_ttl_seconds"`
	WebhookClaimTTLSecs int   `yaml:"webhook_claim_ttl_seconds"`
	PendingTTLMinutes   int   `yaml:"pending_ttl_minutes"`
}

type WorkerConfig struct {
	ExpirationSweepMinutes int `yaml:"expiration_sweep_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAYOS_CLIENT_ID"); v != "" {
		cfg.Gateway.ClientID = v
	}
	if v := os.Getenv("PAYOS_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PAYOS_CHECKSUM_KEY"); v != "" {
		cfg.Gateway.ChecksumKey = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.Gateway.FrontendURL = v
	}
	if v := os.Getenv("PAYMENT_USE_MOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Gateway.UseMock = b
		}
	}
}
