package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/config"
	"github.com/goerajat/online-betting-sub000/internal/exchange"
	"github.com/goerajat/online-betting-sub000/internal/handler"
	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/repository"
	"github.com/goerajat/online-betting-sub000/internal/service"
	"github.com/goerajat/online-betting-sub000/internal/strategy"
	"github.com/goerajat/online-betting-sub000/internal/strategy/spread"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// 1. Load Configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// 2. Exchange client
	baseURL, wsURL := endpoints(cfg)
	var signer *exchange.Signer
	if cfg.Exchange.APIKeyID != "" {
		signer, err = exchange.LoadSigner(cfg.Exchange.APIKeyID, cfg.Exchange.PrivateKeyPath)
		if err != nil {
			log.Fatalf("Failed to load API key: %v", err)
		}
	} else {
		logger.Warn("no exchange API key configured, portfolio calls will fail")
	}
	client, err := exchange.NewClient(exchange.Options{
		BaseURL:   baseURL,
		Signer:    signer,
		RateLimit: cfg.Exchange.RateLimitQPS,
		RateBurst: cfg.Exchange.RateLimitBurst,
		Timeout:   cfg.Exchange.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create exchange client: %v", err)
	}

	// 3. Persistence
	// Violations: Redis > Memory
	var violationRepo service.ViolationRepo = service.NewRiskViolationStore(0)
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("connected to redis", "addr", cfg.Redis.Addr)
			violationRepo = redisClient
		} else {
			logger.Error("failed to connect to redis, falling back to memory", "error", err)
		}
	}

	// Audit: Postgres > Redis > Local File
	var auditRepo service.AuditRepo
	var pgAudit *repository.PostgresAuditRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			pgAudit, err = repository.NewPostgresAuditRepo(db)
		}
		if err == nil {
			logger.Info("connected to postgres")
			auditRepo = pgAudit
		} else {
			logger.Error("failed to connect to postgres, audit logs will be file-only", "error", err)
		}
	}
	if auditRepo == nil && redisClient != nil {
		auditRepo = repository.NewRedisAuditRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
	}
	auditSvc, err := service.NewAuditService(cfg.Audit.Dir, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	var journal *repository.OrderJournal
	if cfg.Journal.Path != "" {
		journal, err = repository.OpenOrderJournal(cfg.Journal.Path)
		if err != nil {
			log.Fatalf("Failed to open order journal: %v", err)
		}
	}

	// 4. Managers
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	orders := manager.NewOrderManager(client, cfg.Polling.OrdersInterval)
	positions := manager.NewPositionManager(client, cfg.Polling.PositionsInterval)

	marketOpts := []manager.MarketOption{manager.WithPositionSink(positions)}
	if cfg.Stream.Enabled {
		streamCfg := market.StreamConfig{
			URL:               wsURL,
			Positions:         cfg.Stream.Positions,
			PingPeriod:        cfg.Stream.PingPeriod,
			ReconnectMaxDelay: cfg.Stream.ReconnectMax,
		}
		if signer != nil {
			streamCfg.Headers = signer.HandshakeHeaders(wsURL)
		}
		marketOpts = append(marketOpts, manager.WithTransport(market.NewStream(streamCfg)))
	}
	markets := manager.NewMarketManager(client, marketOpts...)

	if journal != nil {
		// 轮询发现的变化（成交、外部撤单）也进日志
		orders.AddOrderChangeListener(func(ev manager.OrderEvent) {
			if ev.Source != manager.SourcePoll {
				return
			}
			if err := journal.Record(ctx, string(ev.Type), ev.Order); err != nil {
				logger.LogError(ctx, err, "order journal write failed", "order_id", ev.Order.OrderID)
			}
		})
	}

	// 5. Core services
	riskEngine := service.NewRiskEngine(cfg.RiskConfig(),
		service.WithPositionLookup(positions),
		service.WithViolationRepo(violationRepo),
		service.WithViolationAuditor(auditSvc),
	)
	orderOpts := []service.OrderServiceOption{service.WithOrderAuditor(auditSvc)}
	if journal != nil {
		orderOpts = append(orderOpts, service.WithOrderJournal(journal))
	}
	orderSvc := service.NewOrderService(client, riskEngine, orders, orderOpts...)

	// 6. Strategies
	quotes := strategy.NewMarketQuotes(client, 0)
	registry := strategy.NewRegistry()
	if err := spread.Register(registry); err != nil {
		log.Fatalf("Failed to register strategies: %v", err)
	}
	strategies := strategy.NewManager(strategy.Services{
		Markets:   markets,
		Orders:    orders,
		Positions: positions,
		Trader:    orderSvc,
		Quotes:    quotes,
	}, strategy.WithLifecycleAuditor(auditSvc))
	for _, sc := range cfg.Strategies {
		runner, err := registry.Build(sc)
		if err != nil {
			log.Fatalf("Failed to build strategy %s: %v", sc.Name, err)
		}
		if err := strategies.Add(runner); err != nil {
			log.Fatalf("Failed to add strategy %s: %v", sc.Name, err)
		}
	}

	// 7. Start
	if err := markets.Start(ctx); err != nil {
		log.Fatalf("Failed to start market stream: %v", err)
	}
	orders.Start(ctx)
	positions.Start(ctx)
	if err := strategies.InitializeAll(ctx); err != nil {
		logger.LogError(ctx, err, "some strategies failed to initialize")
	}
	if err := strategies.ActivateAll(ctx); err != nil {
		logger.LogError(ctx, err, "some strategies failed to activate")
	}
	if pgAudit != nil {
		go runAuditCleanup(ctx, pgAudit, cfg.Database)
	}

	// 8. Operations API
	if cfg.Auth.AdminKey == "" {
		logger.Warn("admin key not set, operations API is unauthenticated")
	}
	router := handler.NewRouter(cfg, handler.Deps{
		Strategies: strategies,
		Markets:    markets,
		Orders:     orders,
		Positions:  positions,
		Risk:       riskEngine,
		Panic:      orderSvc,
		Audit:      auditSvc,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("trader started", "port", cfg.Server.Port, "env", cfg.Exchange.Env, "strategies", len(strategies.Runners()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, err, "server forced to shutdown")
	}
	// 先停策略再停行情，策略停用时还需要撤单
	if err := strategies.ShutdownAll(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, err, "strategy shutdown")
	}
	quotes.Close()
	markets.Shutdown()
	orders.Shutdown()
	positions.Shutdown()
	riskEngine.Close()
	stop()

	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.LogError(shutdownCtx, err, "close order journal")
		}
	}
	if err := auditSvc.Close(); err != nil {
		logger.LogError(shutdownCtx, err, "close audit service")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("trader exited")
}

func endpoints(cfg *config.Config) (string, string) {
	base, ws := exchange.DemoBaseURL, exchange.DemoWSURL
	if cfg.Exchange.Env == "prod" {
		base, ws = exchange.ProdBaseURL, exchange.ProdWSURL
	}
	if cfg.Exchange.BaseURL != "" {
		base = cfg.Exchange.BaseURL
	}
	if cfg.Exchange.WSURL != "" {
		ws = cfg.Exchange.WSURL
	}
	return base, ws
}

func runAuditCleanup(ctx context.Context, repo *repository.PostgresAuditRepo, cfg config.DatabaseConfig) {
	if cfg.AuditRetentionDays <= 0 {
		return
	}
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repo.Cleanup(ctx, retention); err != nil {
				logger.LogError(ctx, err, "audit cleanup failed")
			}
		}
	}
}
