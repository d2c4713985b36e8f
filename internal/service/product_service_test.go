package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// Test cases for ProductService
func TestProductService_CreateProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		req     *domain.CreateProductRequest
		wantErr error
	}{
		{
			name: "valid product",
			req: &domain.CreateProductRequest{
				Name:              "Brake Lever",
				SKU:               "LEV-001",
				Price:             dec("24.99"),
				InitialStock:      12,
				LowStockThreshold: 3,
			},
		},
		{
			name: "duplicate SKU",
			req: &domain.CreateProductRequest{
				Name:  "Brake Lever Copy",
				SKU:   "LEV-001",
				Price: dec("19.99"),
			},
			wantErr: domain.ErrDuplicate,
		},
		{
			name: "negative price",
			req: &domain.CreateProductRequest{
				Name:  "Broken",
				SKU:   "BRK-000",
				Price: dec("-1"),
			},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name: "missing name",
			req: &domain.CreateProductRequest{
				SKU:   "NONAME",
				Price: dec("1"),
			},
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product, err := f.products.CreateProduct(ctx, tt.req, staffActor)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, product.ID)
			assert.Equal(t, tt.req.InitialStock, product.StockQuantity)
			f.requireConsistent(t, product.ID)

			history, err := f.ledger.History(ctx, product.ID, 0)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, domain.ReasonRestock, history[0].Reason)
		})
	}
}

func TestProductService_CreateWithoutInitialStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	product, err := f.products.CreateProduct(ctx, &domain.CreateProductRequest{
		Name: "Backorder Part", SKU: "BO-1", Price: dec("10"), LowStockThreshold: 1,
	}, staffActor)
	require.NoError(t, err)
	assert.Zero(t, product.StockQuantity)

	history, err := f.ledger.History(ctx, product.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProductService_UpdateProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "UPD-1", "10.00", 4, 1)

	name := "Renamed Part"
	threshold := 5
	updated, err := f.products.UpdateProduct(ctx, p.ID, &domain.UpdateProductRequest{
		Name:              &name,
		Price:             ptr(dec("12.345")),
		LowStockThreshold: &threshold,
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.True(t, updated.Price.Equal(dec("12.35")))
	assert.Equal(t, 4, updated.StockQuantity, "details update never touches stock")

	got, err := f.products.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.LowStockThreshold)

	blank := " "
	_, err = f.products.UpdateProduct(ctx, p.ID, &domain.UpdateProductRequest{Name: &blank})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.products.UpdateProduct(ctx, 999, &domain.UpdateProductRequest{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductService_ListProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedProduct(t, "CHAIN-1", "30.00", 10, 2)
	f.seedProduct(t, "CHAIN-2", "35.00", 1, 2)
	f.seedProduct(t, "TIRE-1", "90.00", 8, 2)

	resp, err := f.products.ListProducts(ctx, &domain.ProductListRequest{Keyword: "CHAIN"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)

	low, err := f.products.ListProducts(ctx, &domain.ProductListRequest{LowStockOnly: true})
	require.NoError(t, err)
	require.Len(t, low.Products, 1)
	assert.Equal(t, "CHAIN-2", low.Products[0].SKU)

	_, err = f.products.GetProduct(ctx, 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
