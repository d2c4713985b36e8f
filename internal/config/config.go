// Package config 负责从 .env 文件与环境变量加载应用配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config 是应用的全部配置
type Config struct {
	App        AppConfig
	Log        LogConfig
	Database   DatabaseConfig
	Migrations MigrationsConfig
	Redis      RedisConfig
	Cache      CacheConfig
	CORS       CORSConfig
	JWT        JWTConfig
	MQ         MQConfig
	Limiter    LimiterConfig
	Order      OrderConfig
	Payment    PaymentConfig
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name            string
	Env             string // dev, test, prod
	Version         string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string // debug, info, warn, error
	Encoding string // json, console
}

// DatabaseConfig MySQL 配置
type DatabaseConfig struct {
	Driver   string // mysql, memory（仅用于本地演示，重启丢失数据）
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// MigrationsConfig 迁移配置
type MigrationsConfig struct {
	Dir     string
	AutoRun bool
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enabled bool
	Type    string // redis, memory
	TTL     time.Duration
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// JWTConfig 令牌校验配置
type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// MQConfig RabbitMQ 配置
type MQConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	Exchange string
}

// LimiterConfig 下单限流配置
type LimiterConfig struct {
	Enabled  bool
	Capacity int64         // 令牌桶容量
	Rate     int64         // 每个窗口补充的令牌数
	Window   time.Duration // 补充窗口
}

// OrderConfig 订单与计价策略
type OrderConfig struct {
	// ReleaseDiscountOnCancel 取消已支付订单时是否归还折扣码使用次数
	ReleaseDiscountOnCancel bool
	// ReturnWindow 订单完成后的退货窗口
	ReturnWindow          time.Duration
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal // 0 表示不包邮
}

// PaymentConfig 支付网关配置
type PaymentConfig struct {
	Provider        string // manual | stripe
	Timeout         time.Duration
	Currency        string
	StripeSecretKey string
	StripeAccountID string
}

// Load 读取 .env（不存在时忽略）与环境变量，返回校验后的配置
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:            getEnv("APP_NAME", "moto_shop"),
			Env:             getEnv("APP_ENV", "dev"),
			Version:         getEnv("APP_VERSION", "0.1.0"),
			Port:            getEnvInt("APP_PORT", 8080),
			RequestTimeout:  getEnvDuration("APP_REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "moto_shop"),
		},
		Migrations: MigrationsConfig{
			Dir:     getEnv("MIGRATIONS_DIR", "migrations"),
			AutoRun: getEnvBool("MIGRATIONS_AUTO_RUN", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "127.0.0.1"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			Type:    getEnv("CACHE_TYPE", "redis"),
			TTL:     getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID", "X-Idempotency-Key", "X-Guest-Email"}),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 2*time.Hour),
		},
		MQ: MQConfig{
			Enabled:  getEnvBool("MQ_ENABLED", false),
			Host:     getEnv("MQ_HOST", "127.0.0.1"),
			Port:     getEnvInt("MQ_PORT", 5672),
			Username: getEnv("MQ_USERNAME", "guest"),
			Password: getEnv("MQ_PASSWORD", "guest"),
			VHost:    getEnv("MQ_VHOST", "/"),
			Exchange: getEnv("MQ_EXCHANGE", "moto_shop.events"),
		},
		Limiter: LimiterConfig{
			Enabled:  getEnvBool("LIMITER_ENABLED", true),
			Capacity: int64(getEnvInt("LIMITER_CAPACITY", 20)),
			Rate:     int64(getEnvInt("LIMITER_RATE", 10)),
			Window:   getEnvDuration("LIMITER_WINDOW", time.Second),
		},
		Order: OrderConfig{
			ReleaseDiscountOnCancel: getEnvBool("ORDER_RELEASE_DISCOUNT_ON_CANCEL", false),
			ReturnWindow:            getEnvDuration("ORDER_RETURN_WINDOW", 7*24*time.Hour),
		},
		Payment: PaymentConfig{
			Provider:        getEnv("PAYMENT_PROVIDER", "manual"),
			Timeout:         getEnvDuration("PAYMENT_TIMEOUT", 15*time.Second),
			Currency:        getEnv("PAYMENT_CURRENCY", "usd"),
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			StripeAccountID: getEnv("STRIPE_ACCOUNT_ID", ""),
		},
	}

	var err error
	if cfg.Order.TaxRate, err = getEnvDecimal("ORDER_TAX_RATE", "0"); err != nil {
		return nil, err
	}
	if cfg.Order.ShippingFee, err = getEnvDecimal("ORDER_SHIPPING_FEE", "0"); err != nil {
		return nil, err
	}
	if cfg.Order.FreeShippingThreshold, err = getEnvDecimal("ORDER_FREE_SHIPPING_THRESHOLD", "0"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid APP_PORT: %d", c.App.Port)
	}
	switch c.App.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid APP_ENV: %q", c.App.Env)
	}
	if c.App.Env == "prod" && c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required in prod")
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "memory" {
		return fmt.Errorf("invalid DB_DRIVER: %q", c.Database.Driver)
	}
	if c.Cache.Enabled && c.Cache.Type != "redis" && c.Cache.Type != "memory" {
		return fmt.Errorf("invalid CACHE_TYPE: %q", c.Cache.Type)
	}
	if c.Order.TaxRate.IsNegative() || c.Order.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ORDER_TAX_RATE must be in [0, 1): %s", c.Order.TaxRate)
	}
	if c.Order.ShippingFee.IsNegative() || c.Order.FreeShippingThreshold.IsNegative() {
		return errors.New("shipping fee and threshold must be non-negative")
	}
	switch c.Payment.Provider {
	case "manual":
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return errors.New("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_PROVIDER: %q", c.Payment.Provider)
	}
	if c.Limiter.Enabled && (c.Limiter.Capacity <= 0 || c.Limiter.Rate <= 0 || c.Limiter.Window <= 0) {
		return errors.New("limiter capacity, rate and window must be positive")
	}
	return nil
}

// RedisAddr 返回 Redis 地址
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDecimal(key, def string) (decimal.Decimal, error) {
	v := getEnv(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
