package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// memoryState 是内存存储的全部数据
type memoryState struct {
	products    map[int64]*domain.Product
	adjustments []*domain.StockAdjustment
	orders      map[int64]*domain.Order
	discounts   map[int64]*domain.Discount
	refunds     map[int64]*domain.Refund
	seq         int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		products:  make(map[int64]*domain.Product),
		orders:    make(map[int64]*domain.Order),
		discounts: make(map[int64]*domain.Discount),
		refunds:   make(map[int64]*domain.Refund),
	}
}

func (s *memoryState) nextID() int64 {
	s.seq++
	return s.seq
}

// clone 深拷贝状态，用于事务回滚
func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.seq = s.seq
	for id, p := range s.products {
		c.products[id] = copyProduct(p)
	}
	c.adjustments = append([]*domain.StockAdjustment(nil), s.adjustments...)
	for id, o := range s.orders {
		c.orders[id] = copyOrder(o)
	}
	for id, d := range s.discounts {
		c.discounts[id] = copyDiscount(d)
	}
	for id, r := range s.refunds {
		rc := *r
		c.refunds[id] = &rc
	}
	return c
}

// MemoryStore 是 Store 的内存实现：事务持有全局写锁，失败时整体恢复快照。
// 用于单元测试与本地演示，语义与 MySQL 实现一致。
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	repos *memoryRepositories
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{state: newMemoryState()}
	s.repos = &memoryRepositories{store: s}
	return s
}

// WithTx 串行执行事务
func (s *MemoryStore) WithTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &memoryRepositories{store: s, inTx: true}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Ping 内存存储始终可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Products() ProductRepository { return s.repos.Products() }
func (s *MemoryStore) Ledger() StockLedgerRepository { return s.repos.Ledger() }
func (s *MemoryStore) Orders() OrderRepository { return s.repos.Orders() }
func (s *MemoryStore) Discounts() DiscountRepository { return s.repos.Discounts() }
func (s *MemoryStore) Refunds() RefundRepository { return s.repos.Refunds() }

// memoryRepositories 通过按接口拆分的适配类型暴露五个仓储
type memoryRepositories struct {
	store *MemoryStore
	inTx  bool
}

func (r *memoryRepositories) Products() ProductRepository { return memProducts{r} }
func (r *memoryRepositories) Ledger() StockLedgerRepository { return memLedger{r} }
func (r *memoryRepositories) Orders() OrderRepository { return memOrders{r} }
func (r *memoryRepositories) Discounts() DiscountRepository { return memDiscounts{r} }
func (r *memoryRepositories) Refunds() RefundRepository { return memRefunds{r} }

// read 在事务外加读锁，事务内已持有写锁
func (r *memoryRepositories) read() (*memoryState, func()) {
	if r.inTx {
		return r.store.state, func() {}
	}
	r.store.mu.RLock()
	return r.store.state, r.store.mu.RUnlock
}

func (r *memoryRepositories) write() (*memoryState, func()) {
	if r.inTx {
		return r.store.state, func() {}
	}
	r.store.mu.Lock()
	return r.store.state, r.store.mu.Unlock
}

// ---- products ----

type memProducts struct{ r *memoryRepositories }

func (m memProducts) Create(_ context.Context, product *domain.Product) error {
	st, unlock := m.r.write()
	defer unlock()
	for _, p := range st.products {
		if strings.EqualFold(p.SKU, product.SKU) {
			return fmt.Errorf("sku %s: %w", product.SKU, domain.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	product.ID = st.nextID()
	product.StockQuantity = 0
	product.Version = 0
	product.CreatedAt, product.UpdatedAt = now, now
	st.products[product.ID] = copyProduct(product)
	return nil
}

func (m memProducts) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	st, unlock := m.r.read()
	defer unlock()
	if p, ok := st.products[id]; ok {
		return copyProduct(p), nil
	}
	return nil, nil
}

func (m memProducts) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	return m.GetByID(ctx, id)
}

func (m memProducts) GetByIDs(_ context.Context, ids []int64) ([]*domain.Product, error) {
	st, unlock := m.r.read()
	defer unlock()
	products := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			products = append(products, copyProduct(p))
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m memProducts) UpdateDetails(_ context.Context, product *domain.Product) error {
	st, unlock := m.r.write()
	defer unlock()
	p, ok := st.products[product.ID]
	if !ok || p.Version != product.Version {
		return domain.ErrVersionConflict
	}
	p.Name = product.Name
	p.Price = product.Price
	p.LowStockThreshold = product.LowStockThreshold
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	product.Version = p.Version
	return nil
}

func (m memProducts) UpdateStock(_ context.Context, id int64, stock int, expectedVersion int) error {
	st, unlock := m.r.write()
	defer unlock()
	p, ok := st.products[id]
	if !ok || p.Version != expectedVersion || stock < 0 {
		return domain.ErrVersionConflict
	}
	p.StockQuantity = stock
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m memProducts) List(_ context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error) {
	st, unlock := m.r.read()
	defer unlock()
	kw := strings.ToLower(strings.TrimSpace(req.Keyword))
	var matched []*domain.Product
	for _, p := range st.products {
		if kw != "" && !strings.Contains(strings.ToLower(p.Name), kw) && !strings.Contains(strings.ToLower(p.SKU), kw) {
			continue
		}
		if req.LowStockOnly && !p.IsLowStock() {
			continue
		}
		matched = append(matched, copyProduct(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return paginate(matched, req.Page, req.PageSize), int64(len(matched)), nil
}

func (m memProducts) ListLowStock(_ context.Context, limit int) ([]*domain.Product, error) {
	st, unlock := m.r.read()
	defer unlock()
	var low []*domain.Product
	for _, p := range st.products {
		if p.IsLowStock() {
			low = append(low, copyProduct(p))
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].StockQuantity != low[j].StockQuantity {
			return low[i].StockQuantity < low[j].StockQuantity
		}
		return low[i].ID < low[j].ID
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

// ---- ledger ----

type memLedger struct{ r *memoryRepositories }

func (m memLedger) Append(_ context.Context, adj *domain.StockAdjustment) error {
	st, unlock := m.r.write()
	defer unlock()
	if _, ok := st.products[adj.ProductID]; !ok {
		return fmt.Errorf("failed to append stock adjustment: product %d: %w", adj.ProductID, domain.ErrNotFound)
	}
	adj.ID = st.nextID()
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	stored := *adj
	st.adjustments = append(st.adjustments, &stored)
	return nil
}

func (m memLedger) ListByProduct(_ context.Context, productID int64, limit int) ([]*domain.StockAdjustment, error) {
	st, unlock := m.r.read()
	defer unlock()
	var out []*domain.StockAdjustment
	for i := len(st.adjustments) - 1; i >= 0; i-- {
		adj := st.adjustments[i]
		if adj.ProductID != productID {
			continue
		}
		c := *adj
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memLedger) SumByProduct(_ context.Context, productID int64) (int, int, error) {
	st, unlock := m.r.read()
	defer unlock()
	sum, count := 0, 0
	for _, adj := range st.adjustments {
		if adj.ProductID == productID {
			sum += adj.QuantityDelta
			count++
		}
	}
	return sum, count, nil
}

func (m memLedger) NetForOrder(_ context.Context, orderID, productID int64) (int, error) {
	st, unlock := m.r.read()
	defer unlock()
	net := 0
	for _, adj := range st.adjustments {
		if adj.ProductID == productID && adj.OrderID != nil && *adj.OrderID == orderID {
			net += adj.QuantityDelta
		}
	}
	return net, nil
}

// ---- orders ----

type memOrders struct{ r *memoryRepositories }

func (m memOrders) Create(_ context.Context, order *domain.Order) error {
	st, unlock := m.r.write()
	defer unlock()
	order.ID = st.nextID()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 0
	for _, item := range order.Items {
		item.ID = st.nextID()
		item.OrderID = order.ID
	}
	st.orders[order.ID] = copyOrder(order)
	return nil
}

func (m memOrders) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	st, unlock := m.r.read()
	defer unlock()
	if o, ok := st.orders[id]; ok {
		return copyOrder(o), nil
	}
	return nil, nil
}

func (m memOrders) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return m.GetByID(ctx, id)
}

func (m memOrders) Update(_ context.Context, order *domain.Order) error {
	st, unlock := m.r.write()
	defer unlock()
	stored, ok := st.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	st.orders[order.ID] = copyOrder(order)
	return nil
}

func (m memOrders) List(_ context.Context, req *domain.OrderListRequest) ([]*domain.Order, int64, error) {
	st, unlock := m.r.read()
	defer unlock()
	var matched []*domain.Order
	for _, o := range st.orders {
		if req.Status != "" && o.Status != req.Status {
			continue
		}
		if req.UserID != nil && (o.UserID == nil || *o.UserID != *req.UserID) {
			continue
		}
		c := copyOrder(o)
		c.Items = nil
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return paginate(matched, req.Page, req.PageSize), int64(len(matched)), nil
}

// ---- discounts ----

type memDiscounts struct{ r *memoryRepositories }

func (m memDiscounts) Create(_ context.Context, discount *domain.Discount) error {
	st, unlock := m.r.write()
	defer unlock()
	code := domain.NormalizeCode(discount.Code)
	for _, d := range st.discounts {
		if d.Code == code {
			return fmt.Errorf("discount code %s: %w", code, domain.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	discount.ID = st.nextID()
	discount.Code = code
	discount.UsedCount = 0
	discount.CreatedAt, discount.UpdatedAt = now, now
	st.discounts[discount.ID] = copyDiscount(discount)
	return nil
}

func (m memDiscounts) GetByID(_ context.Context, id int64) (*domain.Discount, error) {
	st, unlock := m.r.read()
	defer unlock()
	if d, ok := st.discounts[id]; ok {
		return copyDiscount(d), nil
	}
	return nil, nil
}

func (m memDiscounts) GetByCode(_ context.Context, code string) (*domain.Discount, error) {
	st, unlock := m.r.read()
	defer unlock()
	code = domain.NormalizeCode(code)
	for _, d := range st.discounts {
		if d.Code == code {
			return copyDiscount(d), nil
		}
	}
	return nil, nil
}

func (m memDiscounts) List(_ context.Context) ([]*domain.Discount, error) {
	st, unlock := m.r.read()
	defer unlock()
	out := make([]*domain.Discount, 0, len(st.discounts))
	for _, d := range st.discounts {
		out = append(out, copyDiscount(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m memDiscounts) Delete(_ context.Context, id int64) (bool, error) {
	st, unlock := m.r.write()
	defer unlock()
	if _, ok := st.discounts[id]; !ok {
		return false, nil
	}
	delete(st.discounts, id)
	for _, o := range st.orders {
		if o.DiscountID != nil && *o.DiscountID == id {
			o.DiscountID = nil
		}
	}
	return true, nil
}

func (m memDiscounts) IncrementUsage(_ context.Context, id int64) (bool, error) {
	st, unlock := m.r.write()
	defer unlock()
	d, ok := st.discounts[id]
	if !ok || (d.MaxUses > 0 && d.UsedCount >= d.MaxUses) {
		return false, nil
	}
	d.UsedCount++
	return true, nil
}

func (m memDiscounts) DecrementUsage(_ context.Context, id int64) error {
	st, unlock := m.r.write()
	defer unlock()
	if d, ok := st.discounts[id]; ok && d.UsedCount > 0 {
		d.UsedCount--
	}
	return nil
}

// ---- refunds ----

type memRefunds struct{ r *memoryRepositories }

func (m memRefunds) Create(_ context.Context, refund *domain.Refund) error {
	st, unlock := m.r.write()
	defer unlock()
	refund.ID = st.nextID()
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = domain.RefundStatusPending
	}
	stored := *refund
	st.refunds[refund.ID] = &stored
	return nil
}

func (m memRefunds) MarkSucceeded(_ context.Context, id int64, gatewayRef string) error {
	st, unlock := m.r.write()
	defer unlock()
	r, ok := st.refunds[id]
	if !ok || r.Status != domain.RefundStatusPending {
		return domain.ErrVersionConflict
	}
	r.Status = domain.RefundStatusSucceeded
	r.GatewayReference = gatewayRef
	return nil
}

func (m memRefunds) Delete(_ context.Context, id int64) error {
	st, unlock := m.r.write()
	defer unlock()
	if r, ok := st.refunds[id]; ok && r.Status == domain.RefundStatusPending {
		delete(st.refunds, id)
	}
	return nil
}

func (m memRefunds) ListByOrder(_ context.Context, orderID int64) ([]*domain.Refund, error) {
	st, unlock := m.r.read()
	defer unlock()
	var out []*domain.Refund
	for _, r := range st.refunds {
		if r.OrderID == orderID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memRefunds) SumByOrder(_ context.Context, orderID int64) (decimal.Decimal, error) {
	st, unlock := m.r.read()
	defer unlock()
	sum := decimal.Zero
	for _, r := range st.refunds {
		if r.OrderID == orderID {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

// ---- helpers ----

func copyProduct(p *domain.Product) *domain.Product {
	c := *p
	return &c
}

func copyDiscount(d *domain.Discount) *domain.Discount {
	c := *d
	return &c
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.Guest != nil {
		g := *o.Guest
		c.Guest = &g
	}
	c.Items = make([]*domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		ic := *item
		c.Items[i] = &ic
	}
	return &c
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
