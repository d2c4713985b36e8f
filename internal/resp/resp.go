// Package resp 提供统一的 JSON 响应封装与业务错误码。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务错误码。0 表示成功，其余按 HTTP 语义分段。
const (
	CodeOK = 0

	CodeInvalidParam    = 40000
	CodeUnauthorized    = 40100
	CodeForbidden       = 40300
	CodeNotFound        = 40400
	CodeConflict        = 40900
	CodeTooManyRequests = 42900

	// 库存
	CodeInsufficientStock = 42201
	CodeOutOfStock        = 42202
	// 订单
	CodeIllegalTransition = 40901
	CodePaymentFailed     = 40201
	// 折扣
	CodeDiscountInvalid   = 42211
	CodeDiscountExpired   = 42212
	CodeDiscountExhausted = 42213
	CodeMinPurchaseNotMet = 42214
	// 退款
	CodeRefundExceedsOrderTotal = 42221
	CodeOrderNotRefundable      = 40902

	CodeInternalError = 50000
	CodeTimeout       = 50400
)

// Response 是统一响应结构
type Response[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      *T     `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON 写出统一结构的 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, code int, message string, data any, requestID, traceID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := Response[any]{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	}
	if data != nil {
		body.Data = &data
	}
	_ = json.NewEncoder(w).Encode(body)
}

// OK 写出成功响应
func OK[T any](w http.ResponseWriter, data *T, requestID, traceID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response[T]{
		Code:      CodeOK,
		Message:   "success",
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写出错误响应
func Error(w http.ResponseWriter, status int, code int, message string, requestID, traceID string) {
	WriteJSON(w, status, code, message, nil, requestID, traceID)
}

// HTTPStatusFromCode 将业务错误码映射为 HTTP 状态码
func HTTPStatusFromCode(code int) int {
	switch {
	case code == CodeOK:
		return http.StatusOK
	case code == CodeTimeout:
		return http.StatusGatewayTimeout
	case code == CodePaymentFailed:
		return http.StatusPaymentRequired
	case code >= 40000 && code < 60000:
		return code / 100
	default:
		return http.StatusInternalServerError
	}
}
