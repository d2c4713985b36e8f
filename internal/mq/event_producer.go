package mq

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

const appID = "moto_shop"

// EventProducer 把领域事件发布到 topic 交换机，路由键即事件类型，
// 订阅方可按 inventory.# / order.# 绑定队列。
type EventProducer struct {
	producer *Producer
	exchange string
	logger   *zap.Logger
}

// NewEventProducer 创建事件生产者并声明交换机
func NewEventProducer(producer *Producer, exchange string, logger *zap.Logger) (*EventProducer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := producer.DeclareExchange(exchange, "topic"); err != nil {
		return nil, err
	}
	return &EventProducer{producer: producer, exchange: exchange, logger: logger}, nil
}

// Publish 发布领域事件
func (p *EventProducer) Publish(ctx context.Context, event *domain.Event) error {
	err := p.producer.PublishJSON(ctx, p.exchange, string(event.Type), event, &PublishOptions{
		MessageID: event.ID,
		Type:      string(event.Type),
		Timestamp: event.OccurredAt,
		AppID:     appID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	p.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("trace_id", event.TraceID))
	return nil
}

// Close 关闭底层生产者
func (p *EventProducer) Close() error {
	return p.producer.Close()
}
