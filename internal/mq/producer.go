package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpChannel 是 Producer 用到的 *amqp.Channel 方法子集
type amqpChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type channelOpener func() (amqpChannel, error)

// Producer RabbitMQ生产者。复用一个确认模式通道，发布串行进行。
type Producer struct {
	open   channelOpener
	config *ProducerConfig
	logger *zap.Logger

	mutex     sync.Mutex
	ch        amqpChannel
	confirmCh chan amqp.Confirmation
	closed    bool

	publishedCount int64
	confirmedCount int64
	failedCount    int64
}

// PublishOptions 发布选项
type PublishOptions struct {
	Headers   amqp.Table
	MessageID string
	Timestamp time.Time
	Type      string
	AppID     string
}

// NewProducer 创建生产者
func NewProducer(cm *ConnectionManager, config *ProducerConfig, logger *zap.Logger) *Producer {
	return newProducer(func() (amqpChannel, error) {
		ch, err := cm.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, config, logger)
}

func newProducer(open channelOpener, config *ProducerConfig, logger *zap.Logger) *Producer {
	if config == nil {
		config = DefaultProducerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{open: open, config: config, logger: logger}
}

// DeclareExchange 声明持久化交换机
func (p *Producer) DeclareExchange(name, kind string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		p.resetChannel()
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish 发布消息，失败按配置重试
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body []byte, options *PublishOptions) error {
	publishing := buildPublishing(body, options)

	var lastErr error
	maxAttempts := p.config.MaxRetryAttempts + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.publishOnce(ctx, exchange, routingKey, publishing)
		if err == nil {
			return nil
		}
		if errors.Is(err, errProducerClosed) {
			return err
		}

		lastErr = err
		p.logger.Warn("publish failed",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(p.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	atomic.AddInt64(&p.failedCount, 1)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxAttempts, lastErr)
}

// PublishJSON 发布JSON消息
func (p *Producer) PublishJSON(ctx context.Context, exchange, routingKey string, data any, options *PublishOptions) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if options == nil {
		options = &PublishOptions{}
	}
	if options.Headers == nil {
		options.Headers = amqp.Table{}
	}
	options.Headers["content-type"] = "application/json"
	return p.Publish(ctx, exchange, routingKey, body, options)
}

var errProducerClosed = errors.New("producer is closed")

func (p *Producer) publishOnce(ctx context.Context, exchange, routingKey string, publishing amqp.Publishing) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(publishCtx, exchange, routingKey, false, false, publishing); err != nil {
		p.resetChannel()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	atomic.AddInt64(&p.publishedCount, 1)

	if p.confirmCh == nil {
		return nil
	}
	select {
	case confirmation, ok := <-p.confirmCh:
		if !ok {
			p.resetChannel()
			return fmt.Errorf("channel closed before confirmation")
		}
		if !confirmation.Ack {
			return fmt.Errorf("message was nacked by broker")
		}
		atomic.AddInt64(&p.confirmedCount, 1)
		return nil
	case <-time.After(p.config.ConfirmTimeout):
		// 迟到的确认会错配到下一条消息，直接丢弃通道
		p.resetChannel()
		return fmt.Errorf("publish confirmation timeout")
	case <-ctx.Done():
		p.resetChannel()
		return ctx.Err()
	}
}

// channel 返回可用通道，调用方持有 p.mutex
func (p *Producer) channel() (amqpChannel, error) {
	if p.closed {
		return nil, errProducerClosed
	}
	if p.ch != nil {
		return p.ch, nil
	}

	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if p.config.EnableConfirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to set confirm mode: %w", err)
		}
		p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	p.ch = ch
	return ch, nil
}

func (p *Producer) resetChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirmCh = nil
}

func buildPublishing(body []byte, options *PublishOptions) amqp.Publishing {
	publishing := amqp.Publishing{
		Body:         body,
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if options == nil {
		return publishing
	}

	publishing.Headers = options.Headers
	publishing.MessageId = options.MessageID
	publishing.Type = options.Type
	publishing.AppId = options.AppID
	if !options.Timestamp.IsZero() {
		publishing.Timestamp = options.Timestamp
	}
	if ct, ok := options.Headers["content-type"].(string); ok {
		publishing.ContentType = ct
	}
	return publishing
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.resetChannel()
	return nil
}

// GetStats 获取统计信息
func (p *Producer) GetStats() ProducerStats {
	return ProducerStats{
		PublishedCount: atomic.LoadInt64(&p.publishedCount),
		ConfirmedCount: atomic.LoadInt64(&p.confirmedCount),
		FailedCount:    atomic.LoadInt64(&p.failedCount),
		ConfirmMode:    p.config.EnableConfirm,
	}
}

// ProducerStats 生产者统计信息
type ProducerStats struct {
	PublishedCount int64 `json:"published_count"`
	ConfirmedCount int64 `json:"confirmed_count"`
	FailedCount    int64 `json:"failed_count"`
	ConfirmMode    bool  `json:"confirm_mode"`
}
