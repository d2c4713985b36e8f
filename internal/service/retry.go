package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// withTxRetry 执行事务，遇到锁冲突（死锁、锁等待超时、版本冲突）时以相同输入重试一次。
// 重试后仍冲突时返回 exhausted，调用方据此给出业务错误而不是数据库错误。
func withTxRetry(ctx context.Context, store repo.Store, m *metrics.Metrics, logger *zap.Logger,
	operation string, exhausted error, fn repo.TxFunc) error {
	err := store.WithTx(ctx, fn)
	if !repo.IsRetryable(err) {
		return err
	}

	m.TxRetry(operation)
	logger.Info("retrying transaction after lock conflict",
		zap.String("operation", operation),
		zap.Error(err))

	err = store.WithTx(ctx, fn)
	if !repo.IsRetryable(err) {
		return err
	}
	logger.Warn("transaction still conflicting after retry",
		zap.String("operation", operation),
		zap.Error(err))
	if exhausted == nil {
		return domain.ErrVersionConflict
	}
	return fmt.Errorf("%w: %v", exhausted, err)
}
