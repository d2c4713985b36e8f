package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

func ptr[T any](v T) *T { return &v }

func TestDiscountEngine_Save10(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDiscount(t, &domain.CreateDiscountRequest{
		Code:        "save10",
		Type:        domain.DiscountTypePercentage,
		Value:       dec("10"),
		MinPurchase: ptr(dec("500")),
	})

	quote, err := f.discounts.Price(ctx, dec("1000"), "SAVE10")
	require.NoError(t, err)
	assert.True(t, quote.Amount.Equal(dec("100")), "got %s", quote.Amount)
	assert.Equal(t, "SAVE10", quote.Code)

	_, err = f.discounts.Price(ctx, dec("400"), "Save10")
	assert.ErrorIs(t, err, domain.ErrMinPurchaseNotMet)
}

func TestDiscountEngine_Amounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDiscount(t, &domain.CreateDiscountRequest{Code: "FIFTY", Type: domain.DiscountTypeFixed, Value: dec("50")})
	f.seedDiscount(t, &domain.CreateDiscountRequest{Code: "THIRD", Type: domain.DiscountTypePercentage, Value: dec("33.333")})
	f.seedDiscount(t, &domain.CreateDiscountRequest{Code: "ALL", Type: domain.DiscountTypePercentage, Value: dec("100")})

	tests := []struct {
		code     string
		subtotal string
		want     string
	}{
		{"FIFTY", "200", "50"},
		{"FIFTY", "30", "30"},
		{"THIRD", "100", "33.33"},
		{"ALL", "87.40", "87.40"},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.subtotal, func(t *testing.T) {
			quote, err := f.discounts.Price(ctx, dec(tt.subtotal), tt.code)
			require.NoError(t, err)
			assert.True(t, quote.Amount.Equal(dec(tt.want)), "got %s want %s", quote.Amount, tt.want)
			assert.True(t, quote.Amount.LessThanOrEqual(dec(tt.subtotal)))
		})
	}
}

func TestDiscountEngine_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	past := time.Now().Add(-48 * time.Hour)
	yesterday := time.Now().Add(-24 * time.Hour)
	tomorrow := time.Now().Add(24 * time.Hour)

	// 每个折扣码同时违反多项规则，错误由最先失败的检查决定
	f.seedDiscount(t, &domain.CreateDiscountRequest{
		Code: "OFF", Type: domain.DiscountTypeFixed, Value: dec("5"), IsActive: ptr(false),
		StartsAt: &past, ExpiresAt: &yesterday, MinPurchase: ptr(dec("1000")),
	})
	f.seedDiscount(t, &domain.CreateDiscountRequest{
		Code: "OLD", Type: domain.DiscountTypeFixed, Value: dec("5"),
		StartsAt: &past, ExpiresAt: &yesterday, MinPurchase: ptr(dec("1000")),
	})
	f.seedDiscount(t, &domain.CreateDiscountRequest{
		Code: "SOON", Type: domain.DiscountTypeFixed, Value: dec("5"), StartsAt: &tomorrow,
	})
	used := f.seedDiscount(t, &domain.CreateDiscountRequest{
		Code: "ONCE", Type: domain.DiscountTypeFixed, Value: dec("5"), MaxUses: 1, MinPurchase: ptr(dec("1000")),
	})
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
		return f.discounts.Redeem(ctx, tx, used.ID)
	}))

	tests := []struct {
		code string
		want error
	}{
		{"OFF", domain.ErrDiscountInvalid},
		{"OLD", domain.ErrDiscountExpired},
		{"SOON", domain.ErrDiscountExpired},
		{"ONCE", domain.ErrDiscountExhausted},
		{"NOPE", domain.ErrDiscountInvalid},
		{"", domain.ErrDiscountInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := f.discounts.Price(ctx, dec("10"), tt.code)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDiscountEngine_ConcurrentRedeemRespectsCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const attempts, maxUses = 30, 7
	d := f.seedDiscount(t, &domain.CreateDiscountRequest{Code: "RACE", Type: domain.DiscountTypeFixed, Value: dec("5"), MaxUses: maxUses})

	var redeemed, exhausted atomic.Int32
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			err := f.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
				return f.discounts.Redeem(ctx, tx, d.ID)
			})
			switch {
			case err == nil:
				redeemed.Add(1)
			case errors.Is(err, domain.ErrDiscountExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(maxUses), redeemed.Load())
	assert.Equal(t, int32(attempts-maxUses), exhausted.Load())
	got, err := f.discounts.GetDiscount(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, maxUses, got.UsedCount)
}

func TestDiscountEngine_Admin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d := f.seedDiscount(t, &domain.CreateDiscountRequest{Code: " winter ", Type: domain.DiscountTypeFixed, Value: dec("20")})
	assert.Equal(t, "WINTER", d.Code)
	assert.True(t, d.IsActive)

	_, err := f.discounts.CreateDiscount(ctx, &domain.CreateDiscountRequest{Code: "Winter", Type: domain.DiscountTypeFixed, Value: dec("5")})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = f.discounts.CreateDiscount(ctx, &domain.CreateDiscountRequest{Code: "BIG", Type: domain.DiscountTypePercentage, Value: dec("120")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	list, err := f.discounts.ListDiscounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.discounts.DeleteDiscount(ctx, d.ID))
	assert.ErrorIs(t, f.discounts.DeleteDiscount(ctx, d.ID), domain.ErrNotFound)
	_, err = f.discounts.GetDiscount(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
