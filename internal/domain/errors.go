package domain

import (
	"errors"
	"fmt"
)

// 业务错误。调用方通过 errors.Is 判断具体类型，HTTP 层据此映射错误码。
var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrOutOfStock              = errors.New("out of stock")
	ErrIllegalTransition       = errors.New("illegal order status transition")
	ErrDiscountInvalid         = errors.New("discount invalid")
	ErrDiscountExpired         = errors.New("discount expired")
	ErrDiscountExhausted       = errors.New("discount exhausted")
	ErrMinPurchaseNotMet       = errors.New("minimum purchase not met")
	ErrRefundExceedsOrderTotal = errors.New("refund exceeds order total")
	ErrOrderNotRefundable      = errors.New("order not refundable")

	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPaymentFailed   = errors.New("payment failed")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("resource already exists")
)

// OutOfStockError 携带库存不足的商品ID
type OutOfStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d out of stock: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Unwrap 使 errors.Is(err, ErrOutOfStock) 成立
func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// TransitionError 描述被拒绝的状态迁移
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// InvalidInputf 构造参数错误
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
