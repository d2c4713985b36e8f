package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/cache"
	"github.com/MorseWayne/moto_shop/internal/domain"
)

// CachedProductRepository 带读缓存的商品仓储。
// 只缓存单个商品的读取；锁定读取与列表查询直接访问下层。
// 每次失效推进商品的代数，回源期间代数变化的结果不会写回缓存。
type CachedProductRepository struct {
	ProductRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	mu          sync.Mutex
	generations map[int64]uint64
}

// NewCachedProductRepository 创建带缓存的商品仓储
func NewCachedProductRepository(repo ProductRepository, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedProductRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProductRepository{
		ProductRepository: repo,
		cache:             c,
		ttl:               ttl,
		logger:            logger,
		generations:       make(map[int64]uint64),
	}
}

func productCacheKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// GetByID 根据ID获取商品（带缓存）
func (r *CachedProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := r.cache.Get(ctx, productCacheKey(id), &product)
	if err == nil {
		return &product, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("product cache read failed", zap.Int64("product_id", id), zap.Error(err))
	}

	gen := r.generation(id)
	result, err := r.ProductRepository.GetByID(ctx, id)
	if err != nil || result == nil {
		return result, err
	}
	r.fill(ctx, result, gen)
	return result, nil
}

// GetByIDs 批量获取商品，缓存未命中的部分一次性回源
func (r *CachedProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	products := make([]*domain.Product, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		var p domain.Product
		if err := r.cache.Get(ctx, productCacheKey(id), &p); err == nil {
			products = append(products, &p)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return products, nil
	}

	gens := make(map[int64]uint64, len(missing))
	for _, id := range missing {
		gens[id] = r.generation(id)
	}
	loaded, err := r.ProductRepository.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		r.fill(ctx, p, gens[p.ID])
	}
	return append(products, loaded...), nil
}

// UpdateDetails 更新商品信息后失效缓存
func (r *CachedProductRepository) UpdateDetails(ctx context.Context, product *domain.Product) error {
	if err := r.ProductRepository.UpdateDetails(ctx, product); err != nil {
		return err
	}
	r.Invalidate(ctx, product.ID)
	return nil
}

// UpdateStock 更新库存后失效缓存
func (r *CachedProductRepository) UpdateStock(ctx context.Context, id int64, stock int, expectedVersion int) error {
	if err := r.ProductRepository.UpdateStock(ctx, id, stock, expectedVersion); err != nil {
		return err
	}
	r.Invalidate(ctx, id)
	return nil
}

// Invalidate 删除商品缓存，失败只记录日志
func (r *CachedProductRepository) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	r.mu.Lock()
	for i, id := range ids {
		r.generations[id]++
		keys[i] = productCacheKey(id)
	}
	r.mu.Unlock()
	if err := r.cache.Del(ctx, keys...); err != nil {
		r.logger.Warn("product cache invalidation failed", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}

func (r *CachedProductRepository) generation(id int64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[id]
}

// fill 写回 gen 代回源得到的商品。写入后再次核对代数，
// 与失效交错时删除刚写入的值
func (r *CachedProductRepository) fill(ctx context.Context, p *domain.Product, gen uint64) {
	if r.generation(p.ID) != gen {
		return
	}
	key := productCacheKey(p.ID)
	if err := r.cache.Set(ctx, key, p, r.ttl); err != nil {
		r.logger.Warn("product cache write failed", zap.Int64("product_id", p.ID), zap.Error(err))
		return
	}
	if r.generation(p.ID) != gen {
		if err := r.cache.Del(ctx, key); err != nil {
			r.logger.Warn("stale product cache entry not removed", zap.Int64("product_id", p.ID), zap.Error(err))
		}
	}
}

// cachedStore 为 Store 增加商品读缓存。
// 事务内写过的商品在提交后统一失效，事务内读取始终直达数据库。
type cachedStore struct {
	Store
	products *CachedProductRepository
}

// NewCachedStore 创建带商品缓存的 Store
func NewCachedStore(store Store, c cache.Cache, ttl time.Duration, logger *zap.Logger) Store {
	return &cachedStore{
		Store:    store,
		products: NewCachedProductRepository(store.Products(), c, ttl, logger),
	}
}

func (s *cachedStore) Products() ProductRepository { return s.products }

// WithTx 执行事务并在提交后失效被修改的商品缓存
func (s *cachedStore) WithTx(ctx context.Context, fn TxFunc) error {
	touched := &touchedProducts{}
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Repositories) error {
		return fn(ctx, &trackingRepositories{Repositories: tx, touched: touched})
	})
	if err == nil {
		s.products.Invalidate(ctx, touched.list()...)
	}
	return err
}

type touchedProducts struct {
	mu  sync.Mutex
	ids []int64
}

func (t *touchedProducts) add(id int64) {
	t.mu.Lock()
	t.ids = append(t.ids, id)
	t.mu.Unlock()
}

func (t *touchedProducts) list() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.ids...)
}

type trackingRepositories struct {
	Repositories
	touched *touchedProducts
}

func (r *trackingRepositories) Products() ProductRepository {
	return &trackingProducts{ProductRepository: r.Repositories.Products(), touched: r.touched}
}

type trackingProducts struct {
	ProductRepository
	touched *touchedProducts
}

func (p *trackingProducts) UpdateDetails(ctx context.Context, product *domain.Product) error {
	if err := p.ProductRepository.UpdateDetails(ctx, product); err != nil {
		return err
	}
	p.touched.add(product.ID)
	return nil
}

func (p *trackingProducts) UpdateStock(ctx context.Context, id int64, stock int, expectedVersion int) error {
	if err := p.ProductRepository.UpdateStock(ctx, id, stock, expectedVersion); err != nil {
		return err
	}
	p.touched.add(id)
	return nil
}
