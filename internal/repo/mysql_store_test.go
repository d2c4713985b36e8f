package repo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/moto_shop/internal/database"
	"github.com/MorseWayne/moto_shop/internal/domain"
)

// newMySQLStore 连接 MYSQL_DSN 指向的测试库并执行迁移，未设置时跳过
func newMySQLStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set, skipping MySQL integration test")
	}
	db, err := database.Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations("../../migrations"))
	return NewMySQLStore(db.DB)
}

func uniqueSKU(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}

func TestMySQLStore_ProductVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := newMySQLStore(t)

	p := &domain.Product{Name: "Chain Kit", SKU: uniqueSKU("CK"), Price: decimal.RequireFromString("89.90"), LowStockThreshold: 2}
	require.NoError(t, s.Products().Create(ctx, p))
	assert.ErrorIs(t, s.Products().Create(ctx, &domain.Product{Name: "dup", SKU: p.SKU}), domain.ErrDuplicate)

	require.NoError(t, s.Products().UpdateStock(ctx, p.ID, 5, 0))
	assert.ErrorIs(t, s.Products().UpdateStock(ctx, p.ID, 9, 0), domain.ErrVersionConflict)

	got, err := s.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Price.Equal(p.Price))
}

func TestMySQLStore_WithTxRollsBackLedger(t *testing.T) {
	ctx := context.Background()
	s := newMySQLStore(t)

	p := &domain.Product{Name: "Oil Filter", SKU: uniqueSKU("OF"), Price: decimal.NewFromInt(9)}
	require.NoError(t, s.Products().Create(ctx, p))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx Repositories) error {
		locked, err := tx.Products().GetByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := tx.Ledger().Append(ctx, &domain.StockAdjustment{
			ProductID: p.ID, QuantityDelta: 10, Reason: domain.ReasonRestock, Actor: "test", StockAfter: 10,
		}); err != nil {
			return err
		}
		if err := tx.Products().UpdateStock(ctx, p.ID, 10, locked.Version); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sum, count, err := s.Ledger().SumByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, count)
}

func TestMySQLStore_LedgerNetForOrder(t *testing.T) {
	ctx := context.Background()
	s := newMySQLStore(t)

	p := &domain.Product{Name: "Spark Plug", SKU: uniqueSKU("SP"), Price: decimal.NewFromInt(7)}
	require.NoError(t, s.Products().Create(ctx, p))
	orderID := int64(900001)

	for _, adj := range []*domain.StockAdjustment{
		{ProductID: p.ID, QuantityDelta: 8, Reason: domain.ReasonRestock, Actor: "test", StockAfter: 8},
		{ProductID: p.ID, QuantityDelta: -3, Reason: domain.ReasonSale, Actor: "system", OrderID: &orderID, StockAfter: 5},
		{ProductID: p.ID, QuantityDelta: 3, Reason: domain.ReasonReturned, Actor: "system", OrderID: &orderID, StockAfter: 8},
	} {
		require.NoError(t, s.Ledger().Append(ctx, adj))
	}

	sum, count, err := s.Ledger().SumByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, sum)
	assert.Equal(t, 3, count)

	net, err := s.Ledger().NetForOrder(ctx, orderID, p.ID)
	require.NoError(t, err)
	assert.Zero(t, net)

	history, err := s.Ledger().ListByProduct(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ReasonReturned, history[0].Reason)
}

func TestMySQLStore_DiscountUsageGuard(t *testing.T) {
	ctx := context.Background()
	s := newMySQLStore(t)

	d := &domain.Discount{
		Code:     "it-" + uuid.NewString()[:8],
		Type:     domain.DiscountTypeFixed,
		Value:    decimal.NewFromInt(5),
		MaxUses:  3,
		IsActive: true,
	}
	require.NoError(t, s.Discounts().Create(ctx, d))

	var (
		g       errgroup.Group
		granted = make(chan struct{}, 10)
	)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			ok, err := s.Discounts().IncrementUsage(ctx, d.ID)
			if ok {
				granted <- struct{}{}
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(granted)
	assert.Len(t, granted, 3)

	got, err := s.Discounts().GetByCode(ctx, domain.NormalizeCode(d.Code))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.UsedCount)
}
