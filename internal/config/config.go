package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LedgerConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	DefaultCurrency string        `yaml:"default_currency"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
}

type TenantConfig struct {
	Header        string `yaml:"header"`
	Default       string `yaml:"default"`
	RequireActive bool   `yaml:"require_active"`
}

// GatewayConfig selects the payment gateway adapter. Mode is "http" or "sandbox".
type GatewayConfig struct {
	Mode       string        `yaml:"mode"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RPS        float64       `yaml:"rps"`
	ReturnURL  string        `yaml:"return_url"`
}

// Load reads yaml file, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw yaml into a Config with defaults and env overrides applied.
func Parse(data []byte) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8080, ShutdownTimeout: 10 * time.Second},
		Log:       LogConfig{Level: "info", Format: "json"},
		Postgres:  PostgresConfig{AutoMigrate: true},
		Redis:     RedisConfig{TTL: 5 * time.Minute},
		Kafka:     KafkaConfig{Topic: "wallet-events", PollInterval: time.Second, BatchSize: 100},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Ledger: LedgerConfig{
			MaxAttempts:     3,
			RetryBackoff:    20 * time.Millisecond,
			DefaultCurrency: "USD",
			OpTimeout:       5 * time.Second,
		},
		Tenant: TenantConfig{
			Header:  "X-Tenant-ID",
			Default: "11111111-1111-1111-1111-111111111111",
		},
		Gateway: GatewayConfig{Mode: "sandbox", Timeout: 5 * time.Second, MaxRetries: 3, RPS: 20},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be >= 1, got %d", c.Ledger.MaxAttempts)
	}
	if len(c.Ledger.DefaultCurrency) != 3 {
		return fmt.Errorf("ledger.default_currency must be an ISO 4217 code, got %q", c.Ledger.DefaultCurrency)
	}
	switch c.Gateway.Mode {
	case "sandbox":
	case "http":
		if c.Gateway.BaseURL == "" {
			return errors.New("gateway.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("unknown gateway.mode %q", c.Gateway.Mode)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
