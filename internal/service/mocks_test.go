package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/payment"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

var (
	staffActor    = domain.Actor{UserID: 7, Username: "alice", Role: domain.RoleStaff}
	customerActor = domain.Actor{UserID: 42, Username: "bob", Role: domain.RoleCustomer}
)

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t domain.EventType) []*domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeGateway 包装线下网关，可注入扣款/退款失败
type fakeGateway struct {
	*payment.ManualGateway
	mu         sync.Mutex
	captureErr error
	refundErr  error
	captures   int
	refunds    int
	hold       *captureHold
}

// captureHold 让一次扣款停在网关内，直到测试放行
type captureHold struct {
	arrived chan struct{}
	release chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{ManualGateway: payment.NewManualGateway(nil)}
}

func (g *fakeGateway) Capture(ctx context.Context, req payment.CaptureRequest) (payment.CaptureResult, error) {
	g.mu.Lock()
	g.captures++
	err := g.captureErr
	hold := g.hold
	g.hold = nil
	g.mu.Unlock()
	if hold != nil {
		close(hold.arrived)
		<-hold.release
	}
	if err != nil {
		return payment.CaptureResult{}, err
	}
	return g.ManualGateway.Capture(ctx, req)
}

// holdNextCapture 阻塞下一次扣款。arrived 在扣款进入网关时关闭，调用 release 放行。
func (g *fakeGateway) holdNextCapture() (arrived <-chan struct{}, release func()) {
	h := &captureHold{arrived: make(chan struct{}), release: make(chan struct{})}
	g.mu.Lock()
	g.hold = h
	g.mu.Unlock()
	return h.arrived, func() { close(h.release) }
}

func (g *fakeGateway) Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	g.mu.Lock()
	g.refunds++
	err := g.refundErr
	g.mu.Unlock()
	if err != nil {
		return payment.RefundResult{}, err
	}
	return g.ManualGateway.Refund(ctx, req)
}

func (g *fakeGateway) setCaptureErr(err error) {
	g.mu.Lock()
	g.captureErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) setRefundErr(err error) {
	g.mu.Lock()
	g.refundErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) counts() (captures, refunds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures, g.refunds
}

// conflictStore 让前 n 次事务返回版本冲突，用于验证重试
type conflictStore struct {
	repo.Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func newConflictStore(store repo.Store, conflicts int32) *conflictStore {
	s := &conflictStore{Store: store}
	s.remaining.Store(conflicts)
	return s
}

func (s *conflictStore) WithTx(ctx context.Context, fn repo.TxFunc) error {
	s.calls.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return domain.ErrVersionConflict
	}
	return s.Store.WithTx(ctx, fn)
}

// fixture 组装基于内存存储的完整服务
type fixture struct {
	store     *repo.MemoryStore
	events    *recordingPublisher
	gateway   *fakeGateway
	metrics   *metrics.Metrics
	ledger    *StockLedger
	guard     *CatalogGuard
	discounts *DiscountEngine
	orders    *OrderService
	refunds   *RefundService
	products  ProductService
}

func newFixture(t *testing.T, opts ...func(*OrderServiceConfig)) *fixture {
	t.Helper()
	f := &fixture{
		store:   repo.NewMemoryStore(),
		events:  &recordingPublisher{},
		gateway: newFakeGateway(),
		metrics: metrics.New(),
	}
	cfg := DefaultOrderServiceConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	f.ledger = NewStockLedger(f.store, f.events, f.metrics, nil)
	f.guard = NewCatalogGuard(f.store, f.ledger, f.metrics, nil)
	f.discounts = NewDiscountEngine(f.store, f.metrics, nil)
	f.orders = NewOrderService(f.store, f.guard, f.discounts, f.gateway, f.events, f.metrics, nil, cfg)
	f.refunds = NewRefundService(f.store, f.gateway, f.events, f.metrics, nil, cfg.PaymentTimeout)
	f.products = NewProductService(f.store, f.ledger, nil)
	return f
}

func (f *fixture) seedProduct(t *testing.T, sku, price string, stock, threshold int) *domain.Product {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), &domain.CreateProductRequest{
		Name:              "Part " + sku,
		SKU:               sku,
		Price:             decimal.RequireFromString(price),
		InitialStock:      stock,
		LowStockThreshold: threshold,
	}, staffActor)
	require.NoError(t, err)
	return p
}

func (f *fixture) seedDiscount(t *testing.T, req *domain.CreateDiscountRequest) *domain.Discount {
	t.Helper()
	d, err := f.discounts.CreateDiscount(context.Background(), req)
	require.NoError(t, err)
	return d
}

func orderRequest(code string, lines ...domain.OrderLineRequest) *domain.CreateOrderRequest {
	return &domain.CreateOrderRequest{
		Guest:        &domain.GuestInfo{Name: "Rider", Email: "rider@example.com"},
		Items:        lines,
		DiscountCode: code,
		Shipping:     domain.ShippingInfo{RecipientName: "Rider", Address: "1 Throttle Rd", City: "Moto"},
	}
}

func line(productID int64, qty int) domain.OrderLineRequest {
	return domain.OrderLineRequest{ProductID: productID, Quantity: qty}
}

func (f *fixture) placeOrder(t *testing.T, code string, lines ...domain.OrderLineRequest) *domain.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), orderRequest(code, lines...))
	require.NoError(t, err)
	return o
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	n, err := f.ledger.CurrentStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (f *fixture) requireConsistent(t *testing.T, productID int64) {
	t.Helper()
	audit, err := f.ledger.Audit(context.Background(), productID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "cached %d vs ledger %d", audit.CachedStock, audit.LedgerStock)
}

func (f *fixture) advance(t *testing.T, orderID int64, statuses ...domain.OrderStatus) *domain.Order {
	t.Helper()
	var o *domain.Order
	for _, s := range statuses {
		var err error
		o, err = f.orders.AdvanceStatus(context.Background(), orderID, &domain.AdvanceStatusRequest{Status: s}, staffActor)
		require.NoError(t, err, "advance to %s", s)
	}
	return o
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
