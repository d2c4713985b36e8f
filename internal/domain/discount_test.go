package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDiscount_AmountFor(t *testing.T) {
	tests := []struct {
		name     string
		discount Discount
		subtotal string
		want     string
	}{
		{"percentage", Discount{Type: DiscountTypePercentage, Value: dec("10")}, "1000", "100"},
		{"percentage rounds to cents", Discount{Type: DiscountTypePercentage, Value: dec("15")}, "333.33", "50"},
		{"percentage clamped to subtotal", Discount{Type: DiscountTypePercentage, Value: dec("150")}, "80", "80"},
		{"fixed below subtotal", Discount{Type: DiscountTypeFixed, Value: dec("250")}, "1000", "250"},
		{"fixed above subtotal", Discount{Type: DiscountTypeFixed, Value: dec("250")}, "120.50", "120.5"},
		{"zero subtotal", Discount{Type: DiscountTypeFixed, Value: dec("250")}, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.discount.AmountFor(dec(tt.subtotal))
			assert.Truef(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestDiscount_CheckUsable_Order(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	min500 := dec("500")

	tests := []struct {
		name     string
		discount Discount
		subtotal string
		want     error
	}{
		{
			name:     "usable",
			discount: Discount{IsActive: true, MinPurchase: &min500, MaxUses: 5, UsedCount: 4},
			subtotal: "1000",
		},
		{
			name:     "inactive wins over everything",
			discount: Discount{IsActive: false, ExpiresAt: &yesterday, MaxUses: 1, UsedCount: 1, MinPurchase: &min500},
			subtotal: "10",
			want:     ErrDiscountInvalid,
		},
		{
			name:     "expired wins over exhausted",
			discount: Discount{IsActive: true, StartsAt: &past, ExpiresAt: &yesterday, MaxUses: 1, UsedCount: 1},
			subtotal: "1000",
			want:     ErrDiscountExpired,
		},
		{
			name:     "not started yet",
			discount: Discount{IsActive: true, StartsAt: &tomorrow},
			subtotal: "1000",
			want:     ErrDiscountExpired,
		},
		{
			name:     "exhausted wins over min purchase",
			discount: Discount{IsActive: true, MaxUses: 3, UsedCount: 3, MinPurchase: &min500},
			subtotal: "100",
			want:     ErrDiscountExhausted,
		},
		{
			name:     "unlimited uses",
			discount: Discount{IsActive: true, MaxUses: 0, UsedCount: 10000},
			subtotal: "1",
		},
		{
			name:     "min purchase not met",
			discount: Discount{IsActive: true, MinPurchase: &min500},
			subtotal: "400",
			want:     ErrMinPurchaseNotMet,
		},
		{
			name:     "min purchase met exactly",
			discount: Discount{IsActive: true, MinPurchase: &min500},
			subtotal: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.discount.CheckUsable(dec(tt.subtotal), now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateDiscountRequest_Validate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	assert.NoError(t, (&CreateDiscountRequest{Code: "save10", Type: DiscountTypePercentage, Value: dec("10")}).Validate())
	assert.Error(t, (&CreateDiscountRequest{Code: " ", Type: DiscountTypeFixed, Value: dec("10")}).Validate())
	assert.Error(t, (&CreateDiscountRequest{Code: "BIG", Type: DiscountTypePercentage, Value: dec("101")}).Validate())
	assert.Error(t, (&CreateDiscountRequest{Code: "NEG", Type: DiscountTypeFixed, Value: dec("-1")}).Validate())
	assert.Error(t, (&CreateDiscountRequest{Code: "BOGO", Type: "bogo", Value: dec("1")}).Validate())
	assert.Error(t, (&CreateDiscountRequest{Code: "WIN", Type: DiscountTypeFixed, Value: dec("1"), StartsAt: &start, ExpiresAt: &end}).Validate())

	d := (&CreateDiscountRequest{Code: " save10 ", Type: DiscountTypePercentage, Value: dec("10")}).ToDiscount()
	assert.Equal(t, "SAVE10", d.Code)
	assert.True(t, d.IsActive)
}
