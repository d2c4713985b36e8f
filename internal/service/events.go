package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// EventPublisher 发布领域事件。发布在事务提交之后进行，失败不影响业务结果。
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// LogPublisher 在未启用消息队列时把事件写入日志
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher 创建日志事件发布器
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish 记录事件
func (p *LogPublisher) Publish(_ context.Context, event *domain.Event) error {
	p.logger.Info("domain event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("trace_id", event.TraceID),
		zap.Any("payload", event.Payload))
	return nil
}

// publish 发布事件，失败只记录日志
func publish(ctx context.Context, publisher EventPublisher, logger *zap.Logger, traceID string, eventType domain.EventType, payload any) {
	if publisher == nil {
		return
	}
	event := domain.NewEvent(eventType, payload)
	event.TraceID = traceID
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("type", string(eventType)),
			zap.String("trace_id", traceID),
			zap.Error(err))
	}
}
