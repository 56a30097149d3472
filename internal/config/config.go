package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the global configuration tree.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Funding  FundingConfig  `mapstructure:"funding"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	WalletEvents    string `mapstructure:"wallet_events"`
	OperationEvents string `mapstructure:"operation_events"`
	IntegrityAlarms string `mapstructure:"integrity_alarms"`
}

// AuthConfig controls principal tokens and employee re-verification.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// VerificationTTL bounds how long one employee verification covers a
	// session. Zero means it lasts as long as the session token.
	VerificationTTL  time.Duration `mapstructure:"verification_ttl"`
	PendingActionTTL time.Duration `mapstructure:"pending_action_ttl"`
}

// FundingConfig holds the wallet funding policy constants.
type FundingConfig struct {
	MinAmount            string   `mapstructure:"min_amount"`
	MaxAmount            string   `mapstructure:"max_amount"`
	Currency             string   `mapstructure:"currency"`
	PaymentMethods       []string `mapstructure:"payment_methods"`
	Timezone             string   `mapstructure:"timezone"`
	IntentTimeoutMinutes int      `mapstructure:"intent_timeout_minutes"`
}

type GatewayConfig struct {
	StripeSecretKey string `mapstructure:"stripe_secret_key"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
}

type BusinessConfig struct {
	MaxRetryCount            int `mapstructure:"max_retry_count"`
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds"`
	ReconcileAfterMinutes    int `mapstructure:"reconcile_after_minutes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MinAmountDecimal parses funding.min_amount. Validate guarantees it is well formed.
func (f FundingConfig) MinAmountDecimal() decimal.Decimal {
	return decimal.RequireFromString(f.MinAmount)
}

func (f FundingConfig) MaxAmountDecimal() decimal.Decimal {
	return decimal.RequireFromString(f.MaxAmount)
}

// Location returns the timezone used for calendar-month funding windows.
func (f FundingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (f FundingConfig) IntentTimeout() time.Duration {
	return time.Duration(f.IntentTimeoutMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.wallet_events", "wallet-events")
	v.SetDefault("kafka.topic.operation_events", "guarded-operation-events")
	v.SetDefault("kafka.topic.integrity_alarms", "wallet-integrity-alarms")

	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.verification_ttl", 8*time.Hour)
	v.SetDefault("auth.pending_action_ttl", 10*time.Minute)

	v.SetDefault("funding.min_amount", "5")
	v.SetDefault("funding.max_amount", "5000")
	v.SetDefault("funding.currency", "usd")
	v.SetDefault("funding.payment_methods", []string{"credit_card", "debit_card"})
	v.SetDefault("funding.timezone", "UTC")
	v.SetDefault("funding.intent_timeout_minutes", 60)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval_seconds", 60)
	v.SetDefault("business.reconcile_after_minutes", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads the YAML file at configPath and applies RESELLERPAY_*
// environment overrides on top of it.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RESELLERPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the funding pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	minAmt, err := decimal.NewFromString(c.Funding.MinAmount)
	if err != nil {
		return fmt.Errorf("funding.min_amount: %w", err)
	}
	maxAmt, err := decimal.NewFromString(c.Funding.MaxAmount)
	if err != nil {
		return fmt.Errorf("funding.max_amount: %w", err)
	}
	if !minAmt.IsPositive() || maxAmt.LessThan(minAmt) {
		return fmt.Errorf("funding bounds invalid: min=%s max=%s", minAmt, maxAmt)
	}
	if _, err := time.LoadLocation(c.Funding.Timezone); err != nil {
		return fmt.Errorf("funding.timezone: %w", err)
	}
	if len(c.Funding.PaymentMethods) == 0 {
		return errors.New("funding.payment_methods must not be empty")
	}
	if c.Funding.IntentTimeoutMinutes <= 0 {
		return errors.New("funding.intent_timeout_minutes must be positive")
	}
	return nil
}
