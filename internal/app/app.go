// Package app 按配置装配存储、缓存、事件、支付网关、服务与路由
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/api"
	"github.com/MorseWayne/moto_shop/internal/cache"
	"github.com/MorseWayne/moto_shop/internal/config"
	"github.com/MorseWayne/moto_shop/internal/database"
	"github.com/MorseWayne/moto_shop/internal/limiter"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/mq"
	"github.com/MorseWayne/moto_shop/internal/payment"
	"github.com/MorseWayne/moto_shop/internal/repo"
	"github.com/MorseWayne/moto_shop/internal/router"
	"github.com/MorseWayne/moto_shop/internal/service"
)

// App 持有装配完成的处理链与需要关闭的资源
type App struct {
	Handler http.Handler
	Tokens  service.TokenService
	Metrics *metrics.Metrics

	closers []func() error
	logger  *zap.Logger
}

// New 按配置装配应用。失败时已打开的资源会被关闭。
func New(cfg *config.Config, lg *zap.Logger) (_ *App, err error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	a := &App{Metrics: metrics.New(), logger: lg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	health := make(map[string]router.HealthChecker)

	// 1) 存储
	store, err := a.initStore(cfg, health)
	if err != nil {
		return nil, err
	}

	// 2) Redis 客户端由缓存、限流器、幂等共享
	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = cache.NewRedisClient(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Warn("failed to connect to Redis, falling back to in-process cache and limiter", zap.Error(err))
			redisClient = nil
		} else {
			a.closers = append(a.closers, redisClient.Close)
			lg.Info("redis connected", zap.String("addr", cfg.RedisAddr()))
		}
	}

	// 3) 缓存：商品读穿透 + 幂等响应
	sharedCache := a.initCache(cfg, redisClient, health)
	if cfg.Cache.Enabled {
		store = repo.NewCachedStore(store, sharedCache, cfg.Cache.TTL, lg)
	}

	// 4) 事件
	events, err := a.initEvents(cfg, health)
	if err != nil {
		return nil, err
	}

	// 5) 支付网关
	gateway, err := payment.New(cfg.Payment, lg)
	if err != nil {
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}

	// 6) 下单限流
	checkoutLimiter, err := a.initLimiter(cfg, redisClient)
	if err != nil {
		return nil, err
	}

	// 7) 服务 -> 处理器
	orderCfg := &service.OrderServiceConfig{
		ReleaseDiscountOnCancel: cfg.Order.ReleaseDiscountOnCancel,
		ReturnWindow:            cfg.Order.ReturnWindow,
		TaxRate:                 cfg.Order.TaxRate,
		ShippingFee:             cfg.Order.ShippingFee,
		FreeShippingThreshold:   cfg.Order.FreeShippingThreshold,
		Currency:                cfg.Payment.Currency,
		PaymentTimeout:          cfg.Payment.Timeout,
	}
	ledger := service.NewStockLedger(store, events, a.Metrics, lg)
	guard := service.NewCatalogGuard(store, ledger, a.Metrics, lg)
	discounts := service.NewDiscountEngine(store, a.Metrics, lg)
	orders := service.NewOrderService(store, guard, discounts, gateway, events, a.Metrics, lg, orderCfg)
	refunds := service.NewRefundService(store, gateway, events, a.Metrics, lg, cfg.Payment.Timeout)
	products := service.NewProductService(store, ledger, lg)
	a.Tokens = service.NewTokenService(cfg, lg)

	deps := &router.Dependencies{
		OrderHandler:     api.NewOrderHandler(orders, refunds, lg),
		ProductHandler:   api.NewProductHandler(products, lg),
		InventoryHandler: api.NewInventoryHandler(ledger, lg),
		DiscountHandler:  api.NewDiscountHandler(discounts, lg),
		TokenService:     a.Tokens,
		CheckoutLimiter:  checkoutLimiter,
		IdempotencyCache: sharedCache,
		Metrics:          a.Metrics,
		HealthChecks:     health,
	}
	a.Handler = router.New().Setup(cfg, deps, lg)
	return a, nil
}

// initStore 打开 MySQL 并按需迁移，或使用内存存储
func (a *App) initStore(cfg *config.Config, health map[string]router.HealthChecker) (repo.Store, error) {
	if cfg.Database.Driver == "memory" {
		a.logger.Warn("using in-memory store, data is lost on restart")
		store := repo.NewMemoryStore()
		health["store"] = store
		return store, nil
	}

	db, err := database.New(cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	// 在 HTTP 服务启动前完成迁移，保证处理请求时表结构已就绪
	if cfg.Migrations.AutoRun {
		a.logger.Info("using migrations directory", zap.String("path", cfg.Migrations.Dir))
		if err := db.RunMigrations(cfg.Migrations.Dir); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	store := repo.NewMySQLStore(db.DB)
	health["store"] = store
	return store, nil
}

// initCache 初始化缓存实例
func (a *App) initCache(cfg *config.Config, client *redis.Client, health map[string]router.HealthChecker) cache.Cache {
	switch {
	case client != nil && cfg.Cache.Type == "redis":
		rc := cache.NewRedisCache(client, cfg.App.Name+":")
		health["redis"] = rc
		a.logger.Info("cache enabled", zap.String("type", "redis"), zap.Duration("ttl", cfg.Cache.TTL))
		return rc
	case cfg.Cache.Enabled:
		a.logger.Info("cache enabled", zap.String("type", "memory"), zap.Duration("ttl", cfg.Cache.TTL))
		return cache.NewMemoryCache()
	default:
		// 缓存关闭时幂等仍需要一个可用的存储
		a.logger.Info("cache disabled, idempotency keys kept in process memory")
		return cache.NewMemoryCache()
	}
}

// initEvents MQ 开启时发布到 RabbitMQ，否则写日志
func (a *App) initEvents(cfg *config.Config, health map[string]router.HealthChecker) (service.EventPublisher, error) {
	if !cfg.MQ.Enabled {
		return service.NewLogPublisher(a.logger), nil
	}

	mqCfg := mq.FromAppConfig(cfg.MQ)
	if err := mqCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mq config: %w", err)
	}
	cm := mq.NewConnectionManager(mqCfg, a.logger)
	if err := cm.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	a.closers = append(a.closers, cm.Close)
	health["rabbitmq"] = cm

	producer := mq.NewProducer(cm, mq.DefaultProducerConfig(), a.logger)
	events, err := mq.NewEventProducer(producer, mqCfg.Exchange, a.logger)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to declare event exchange: %w", err)
	}
	// 先关生产者通道，再关连接
	a.closers = append(a.closers, events.Close)
	a.logger.Info("event publishing enabled", zap.String("exchange", mqCfg.Exchange))
	return events, nil
}

// initLimiter 有 Redis 时跨实例共享令牌桶，否则每个进程独立限流
func (a *App) initLimiter(cfg *config.Config, client *redis.Client) (limiter.Limiter, error) {
	if !cfg.Limiter.Enabled {
		return nil, nil
	}
	lc := &limiter.Config{
		Rate:      cfg.Limiter.Rate,
		Window:    cfg.Limiter.Window,
		Burst:     cfg.Limiter.Capacity,
		KeyPrefix: cfg.App.Name + ":ratelimit",
	}
	if client != nil {
		l, err := limiter.NewTokenBucketLimiter(client, lc)
		if err != nil {
			return nil, fmt.Errorf("init checkout limiter: %w", err)
		}
		return l, nil
	}
	l, err := limiter.NewLocalLimiter(lc)
	if err != nil {
		return nil, fmt.Errorf("init checkout limiter: %w", err)
	}
	return l, nil
}

// needsRedis Redis.Host 为空表示不使用 Redis
func needsRedis(cfg *config.Config) bool {
	if cfg.Redis.Host == "" {
		return false
	}
	return (cfg.Cache.Enabled && cfg.Cache.Type == "redis") || cfg.Limiter.Enabled
}

// Close 按打开的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
