package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// ProductService 定义商品业务逻辑接口
type ProductService interface {
	// 商品管理
	CreateProduct(ctx context.Context, req *domain.CreateProductRequest, actor domain.Actor) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, req *domain.UpdateProductRequest) (*domain.Product, error)

	// 商品查询
	ListProducts(ctx context.Context, req *domain.ProductListRequest) (*domain.ProductListResponse, error)
}

// productService 实现ProductService接口
type productService struct {
	store  repo.Store
	ledger *StockLedger
	logger *zap.Logger
}

// NewProductService 创建商品服务实例
func NewProductService(store repo.Store, ledger *StockLedger, logger *zap.Logger) ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &productService{
		store:  store,
		ledger: ledger,
		logger: logger,
	}
}

// CreateProduct 创建商品，初始库存记为一条 restock 流水
func (s *productService) CreateProduct(ctx context.Context, req *domain.CreateProductRequest, actor domain.Actor) (*domain.Product, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	product := &domain.Product{
		Name:              strings.TrimSpace(req.Name),
		SKU:               strings.TrimSpace(req.SKU),
		Price:             req.Price.Round(2),
		LowStockThreshold: req.LowStockThreshold,
	}

	var initial *appliedAdjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
		if err := tx.Products().Create(ctx, product); err != nil {
			return err
		}
		if req.InitialStock == 0 {
			return nil
		}
		applied, err := s.ledger.apply(ctx, tx, AdjustmentInput{
			ProductID: product.ID,
			Delta:     req.InitialStock,
			Reason:    domain.ReasonRestock,
			Note:      "initial stock",
			Actor:     actor,
		})
		if err != nil {
			return err
		}
		initial = applied
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	if initial != nil {
		product = initial.product
		s.ledger.afterCommit(ctx, initial)
	}
	s.logger.Info("product created",
		logger.TraceField(ctx),
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.Int("initial_stock", product.StockQuantity))
	return product, nil
}

// GetProduct 获取商品
func (s *productService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.store.Products().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	return product, nil
}

// UpdateProduct 更新商品资料。库存只能通过流水修改。
func (s *productService) UpdateProduct(ctx context.Context, id int64, req *domain.UpdateProductRequest) (*domain.Product, error) {
	var updated *domain.Product
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
		product, err := tx.Products().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.InvalidInputf("product name is required")
			}
			product.Name = name
		}
		if req.Price != nil {
			if req.Price.IsNegative() {
				return domain.InvalidInputf("price must be non-negative")
			}
			product.Price = req.Price.Round(2)
		}
		if req.LowStockThreshold != nil {
			if *req.LowStockThreshold < 0 {
				return domain.InvalidInputf("low stock threshold must be non-negative")
			}
			product.LowStockThreshold = *req.LowStockThreshold
		}

		if err := tx.Products().UpdateDetails(ctx, product); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListProducts 获取商品列表
func (s *productService) ListProducts(ctx context.Context, req *domain.ProductListRequest) (*domain.ProductListResponse, error) {
	req.Normalize()

	products, total, err := s.store.Products().List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	totalPages := int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	return &domain.ProductListResponse{
		Products:   products,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
	}, nil
}
