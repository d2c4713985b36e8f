package resp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	data := map[string]int{"stock": 5}
	OK(rec, &data, "req-1", "trace-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body Response[map[string]int]
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != CodeOK || body.RequestID != "req-1" || body.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if body.Data == nil || (*body.Data)["stock"] != 5 {
		t.Fatalf("unexpected data: %+v", body.Data)
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusConflict, CodeIllegalTransition, "illegal transition", "req-2", "")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["data"]; ok {
		t.Fatalf("error response should omit data: %v", body)
	}
	if int(body["code"].(float64)) != CodeIllegalTransition {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestHTTPStatusFromCode(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{CodeOK, http.StatusOK},
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeIllegalTransition, http.StatusConflict},
		{CodeOutOfStock, http.StatusUnprocessableEntity},
		{CodeRefundExceedsOrderTotal, http.StatusUnprocessableEntity},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodePaymentFailed, http.StatusPaymentRequired},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeInternalError, http.StatusInternalServerError},
		{12345, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusFromCode(tt.code); got != tt.want {
			t.Errorf("HTTPStatusFromCode(%d) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
