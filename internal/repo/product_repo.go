package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// ProductRepository 定义商品数据访问接口。
// 库存字段只能通过 UpdateStock 修改，且必须与库存流水在同一事务中写入。
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	// GetByIDForUpdate 在事务中锁定商品行，用于串行化同一商品的库存读改写
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error)
	UpdateDetails(ctx context.Context, product *domain.Product) error
	// UpdateStock 以乐观锁写入新的缓存库存，版本不匹配返回 domain.ErrVersionConflict
	UpdateStock(ctx context.Context, id int64, stock int, expectedVersion int) error
	List(ctx context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error)
	ListLowStock(ctx context.Context, limit int) ([]*domain.Product, error)
}

// productRepo 实现ProductRepository接口
type productRepo struct {
	q querier
}

const productColumns = `id, name, sku, price, stock_quantity, low_stock_threshold, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.SKU,
		&product.Price,
		&product.StockQuantity,
		&product.LowStockThreshold,
		&product.Version,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

// Create 创建商品，初始库存为 0，由调用方追加 restock 流水
func (r *productRepo) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (name, sku, price, stock_quantity, low_stock_threshold, version)
		VALUES (?, ?, ?, 0, ?, 0)
	`

	result, err := r.q.ExecContext(ctx, query,
		product.Name,
		product.SKU,
		product.Price,
		product.LowStockThreshold,
	)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	product.ID = id
	product.StockQuantity = 0
	product.Version = 0
	return nil
}

// GetByID 根据ID获取商品，不存在时返回 nil, nil
func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	product, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by id: %w", err)
	}
	return product, nil
}

// GetByIDForUpdate 锁定并读取商品行
func (r *productRepo) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ? FOR UPDATE`

	product, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return product, nil
}

// GetByIDs 批量获取商品
func (r *productRepo) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM products WHERE id IN (%s) ORDER BY id`, productColumns, strings.Join(placeholders, ","))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get products by ids: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// UpdateDetails 更新商品名称、价格与低库存阈值
func (r *productRepo) UpdateDetails(ctx context.Context, product *domain.Product) error {
	query := `
		UPDATE products
		SET name = ?, price = ?, low_stock_threshold = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.q.ExecContext(ctx, query,
		product.Name,
		product.Price,
		product.LowStockThreshold,
		product.ID,
		product.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	product.Version++
	return nil
}

// UpdateStock 写入新的缓存库存
func (r *productRepo) UpdateStock(ctx context.Context, id int64, stock int, expectedVersion int) error {
	query := `
		UPDATE products
		SET stock_quantity = ?, version = version + 1
		WHERE id = ? AND version = ? AND ? >= 0
	`

	result, err := r.q.ExecContext(ctx, query, stock, id, expectedVersion, stock)
	if err != nil {
		return fmt.Errorf("failed to update product stock: %w", err)
	}
	return expectOneRow(result)
}

// List 获取商品列表
func (r *productRepo) List(ctx context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error) {
	where, args := buildProductWhereClause(req)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM products %s", where)
	var total int64
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	offset := (req.Page - 1) * req.PageSize
	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY id DESC LIMIT ? OFFSET ?`, productColumns, where)
	args = append(args, req.PageSize, offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// ListLowStock 获取库存低于等于阈值的商品
func (r *productRepo) ListLowStock(ctx context.Context, limit int) ([]*domain.Product, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE stock_quantity <= low_stock_threshold
		ORDER BY stock_quantity ASC, id ASC
		LIMIT ?
	`, productColumns)

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list low stock products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// buildProductWhereClause 构建列表查询条件
func buildProductWhereClause(req *domain.ProductListRequest) (string, []any) {
	var conditions []string
	var args []any

	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		conditions = append(conditions, "(name LIKE ? OR sku LIKE ?)")
		like := "%" + kw + "%"
		args = append(args, like, like)
	}
	if req.LowStockOnly {
		conditions = append(conditions, "stock_quantity <= low_stock_threshold")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func collectProducts(rows *sql.Rows) ([]*domain.Product, error) {
	var products []*domain.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// expectOneRow 校验乐观锁更新是否命中
func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}
