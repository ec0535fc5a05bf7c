package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	SourceCoinMarketCap = "coinmarketcap"
	SourceBybit         = "bybit"
	SourceBybitStream   = "bybit_ws"

	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config - глобальная конфигурация сервиса
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type AppConfig struct {
	Env         string `mapstructure:"env"` // "local", "prod"
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	AdminID  int64  `mapstructure:"admin_id"`
}

type FetcherConfig struct {
	Source     string        `mapstructure:"source"` // coinmarketcap, bybit, bybit_ws
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Limit      int           `mapstructure:"limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Testnet    bool          `mapstructure:"testnet"`
	Symbols    []string      `mapstructure:"symbols"` // только для bybit_ws
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type DispatchConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	MinPercentChange string        `mapstructure:"min_percent_change"`
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
}

// Threshold - порог в процентах, уже проверен в LoadConfig
func (d DispatchConfig) Threshold() decimal.Decimal {
	return decimal.RequireFromString(d.MinPercentChange)
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres, redis, memory
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig читает .env, переменные окружения и дефолты.
// APP_ENV -> app.env, STORAGE_POSTGRES_HOST -> storage.postgres.host и т.д.
func LoadConfig() (*Config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on system env vars")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Без явного BindEnv viper не видит вложенные ключи при Unmarshal
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "local")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.metrics_addr", ":9090")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_id", 0)

	v.SetDefault("fetcher.source", SourceCoinMarketCap)
	v.SetDefault("fetcher.api_key", "")
	v.SetDefault("fetcher.base_url", "")
	v.SetDefault("fetcher.limit", 200)
	v.SetDefault("fetcher.timeout", 10*time.Second)
	v.SetDefault("fetcher.testnet", false)
	v.SetDefault("fetcher.symbols", []string{"BTC", "ETH", "SOL", "XRP", "DOGE"})
	v.SetDefault("fetcher.stale_after", time.Minute)

	v.SetDefault("dispatch.interval", time.Minute)
	v.SetDefault("dispatch.min_percent_change", "1")
	v.SetDefault("dispatch.workers", 5)
	v.SetDefault("dispatch.queue_size", 100)
	v.SetDefault("dispatch.delivery_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "price_alerts")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "price_alerts")
}

func (c *Config) validate() error {
	switch c.Fetcher.Source {
	case SourceCoinMarketCap, SourceBybit, SourceBybitStream:
	default:
		return fmt.Errorf("unknown fetcher source %q", c.Fetcher.Source)
	}
	if c.Fetcher.Source == SourceCoinMarketCap && c.Fetcher.APIKey == "" && c.App.Env != "local" {
		return fmt.Errorf("fetcher.api_key is required for %s", SourceCoinMarketCap)
	}
	if c.Fetcher.Limit <= 0 {
		return fmt.Errorf("fetcher.limit must be positive, got %d", c.Fetcher.Limit)
	}

	switch c.Storage.Driver {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	threshold, err := decimal.NewFromString(c.Dispatch.MinPercentChange)
	if err != nil {
		return fmt.Errorf("dispatch.min_percent_change: %w", err)
	}
	if threshold.IsNegative() {
		return fmt.Errorf("dispatch.min_percent_change must not be negative")
	}
	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("dispatch.interval must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	return nil
}

// SlogLevel переводит app.log_level в slog.Level
func (a AppConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
