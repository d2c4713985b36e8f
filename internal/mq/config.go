// Package mq 提供 RabbitMQ 连接管理与领域事件发布
package mq

import (
	"fmt"
	"net/url"
	"time"

	"github.com/MorseWayne/moto_shop/internal/config"
)

// Config RabbitMQ配置
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	// Exchange 领域事件使用的 topic 交换机，路由键为事件类型
	Exchange string

	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration

	// 重连配置
	EnableReconnect      bool
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	Producer *ProducerConfig
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	EnableConfirm    bool
	ConfirmTimeout   time.Duration
	MaxRetryAttempts int
	RetryInterval    time.Duration
	PublishTimeout   time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:                 "localhost",
		Port:                 5672,
		Username:             "guest",
		Password:             "guest",
		VHost:                "/",
		Exchange:             "moto_shop.events",
		ConnectionTimeout:    10 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		EnableReconnect:      true,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		Producer:             DefaultProducerConfig(),
	}
}

// DefaultProducerConfig 返回默认生产者配置
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		EnableConfirm:    true,
		ConfirmTimeout:   5 * time.Second,
		MaxRetryAttempts: 2,
		RetryInterval:    500 * time.Millisecond,
		PublishTimeout:   5 * time.Second,
	}
}

// FromAppConfig 由应用配置构建 MQ 配置
func FromAppConfig(c config.MQConfig) *Config {
	cfg := DefaultConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.Username = c.Username
	cfg.Password = c.Password
	cfg.VHost = c.VHost
	if c.Exchange != "" {
		cfg.Exchange = c.Exchange
	}
	return cfg
}

// GetConnectionURL 获取连接URL
func (c *Config) GetConnectionURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.VHost,
	}
	return u.String()
}

// redactedURL 用于日志输出
func (c *Config) redactedURL() string {
	return fmt.Sprintf("amqp://%s@%s:%d%s", c.Username, c.Host, c.Port, c.VHost)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be greater than 0")
	}
	if c.Producer != nil {
		if err := c.Producer.Validate(); err != nil {
			return fmt.Errorf("producer config validation failed: %w", err)
		}
	}
	return nil
}

// Validate 验证生产者配置
func (c *ProducerConfig) Validate() error {
	if c.EnableConfirm && c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be greater than 0")
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts must be >= 0")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be greater than 0")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish_timeout must be greater than 0")
	}
	return nil
}
