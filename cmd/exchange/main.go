// GrandExchange 主程序
// 功能：玩家间物品交易所，提供挂单、撮合结算、行情与审计查询
// 架构：DDD 分层 + Gin HTTP + 可选 Redis / MySQL / Kafka
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/grandexchange/internal/analytics"
	"github.com/wyfcoding/grandexchange/internal/audit"
	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/application"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/account"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/catalog"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/messaging"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/persistence"
	httphandler "github.com/wyfcoding/grandexchange/internal/exchange/interfaces/http"
	"github.com/wyfcoding/grandexchange/internal/monitoring"
	"github.com/wyfcoding/grandexchange/internal/notification"
	"github.com/wyfcoding/grandexchange/pkg/cache"
	"github.com/wyfcoding/grandexchange/pkg/config"
	"github.com/wyfcoding/grandexchange/pkg/db"
	"github.com/wyfcoding/grandexchange/pkg/logger"
	"github.com/wyfcoding/grandexchange/pkg/metrics"
	"github.com/wyfcoding/grandexchange/pkg/middleware"
	"github.com/wyfcoding/grandexchange/pkg/mq"
	"github.com/wyfcoding/grandexchange/pkg/ratelimit"
	"github.com/wyfcoding/grandexchange/pkg/utils"
)

const connectAttempts = 5

func main() {
	configPath := flag.String("config", "configs/exchange/config.toml", "config file path")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting GrandExchange",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)
	if err := run(ctx, cfg); err != nil {
		logger.Fatal(ctx, "GrandExchange stopped with error", "error", err)
	}
	logger.Info(context.Background(), "GrandExchange exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	ex := cfg.Exchange
	log := logger.Get()

	// 3. 可选基础设施
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		err := utils.RetryWithBackoff(ctx, connectAttempts, 500*time.Millisecond, 5*time.Second, func() error {
			var err error
			redisCache, err = cache.New(cache.Config{
				Host:         cfg.Redis.Host,
				Port:         cfg.Redis.Port,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				MaxPoolSize:  cfg.Redis.MaxPoolSize,
				ConnTimeout:  cfg.Redis.ConnTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer redisCache.Close()
	}

	snapshots, closeStore, err := openSnapshotStore(ctx, cfg, redisCache)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher domain.TradePublisher = messaging.NopPublisher{}
	if ex.Events.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   3,
			RetryBackoff: 100,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error(context.Background(), "Failed to close kafka producer", "error", err)
			}
		}()
		kp := messaging.NewKafkaTradePublisher(producer, ex.Events.Topic, ex.Events.Buffer, log)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error(context.Background(), "Failed to close trade publisher", "error", err)
			}
			st := kp.Stats()
			logger.Info(context.Background(), "Trade publisher closed", "published", st.Published, "dropped", st.Dropped, "failed", st.Failed)
		}()
		publisher = kp
	}

	// 4. 指标
	var collector metrics.MetricsCollector = metrics.NopCollector{}
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		m := metrics.New("exchange")
		if err := m.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		collector = metrics.NewDefaultMetricsCollector(m)
		srv := metrics.NewHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path, prometheus.DefaultGatherer)
		g.Go(func() error { return metrics.Serve(gctx, srv) })
	}

	// 5. 领域服务
	clock := time.Now
	var perf *monitoring.PerformanceMetrics
	if ex.Monitoring.Enabled {
		perf = monitoring.NewPerformanceMetrics(log)
	}
	exchange := application.NewExchange(application.OptionsFromConfig(ex), application.Deps{
		Accounts: account.NewStore(ex.BuyOrderSlots, ex.OfferSlots),
		Items:    catalog.New(ex.Items...),
		Tax:      domain.NewSalesTax(decimal.NewFromFloat(ex.SalesTaxPercent)),
		Cooldowns: cooldown.NewService(cooldown.Config{
			SellCreate: time.Duration(ex.Cooldown.SellCreateMs) * time.Millisecond,
			SellToggle: time.Duration(ex.Cooldown.SellToggleMs) * time.Millisecond,
			BuyCreate:  time.Duration(ex.Cooldown.BuyCreateMs) * time.Millisecond,
			BuyToggle:  time.Duration(ex.Cooldown.BuyToggleMs) * time.Millisecond,
		}, log),
		Audit:         audit.NewLog(ex.Audit.LogSize, log),
		Analytics:     analytics.NewService(ex.Analytics.HistorySize, log),
		Performance:   perf,
		Notifications: notification.NewService(ex.Notification.MaxPerPlayer, log),
		Metrics:       collector,
		Publisher:     publisher,
		Snapshots:     snapshots,
		Clock:         clock,
		Logger:        log,
	})
	if snapshots != nil {
		if err := exchange.RestoreSnapshot(ctx); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}

	// 6. HTTP 服务
	local := ratelimit.NewLocalRateLimiter()
	var limiter ratelimit.RateLimiter = local
	if redisCache != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient())
	} else {
		g.Go(func() error {
			idle := cfg.RateLimit.IdleTimeout()
			ticker := time.NewTicker(max(idle/2, time.Second))
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := local.Cleanup(idle); n > 0 {
						logger.Debug(gctx, "Evicted idle rate limiters", "count", n)
					}
				}
			}
		})
	}
	httpServer := createHTTPServer(cfg, exchange, limiter, collector)
	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// 7. 维护任务
	g.Go(func() error {
		interval := ex.MaintenanceInterval()
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				exchange.RunMaintenance(gctx)
			}
		}
	})

	err = g.Wait()

	if snapshots != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := exchange.SaveSnapshot(saveCtx); serr != nil {
			logger.Error(saveCtx, "Failed to save final snapshot", "error", serr)
		}
	}
	return err
}

// openSnapshotStore 按配置选择快照后端，none 时返回 nil
func openSnapshotStore(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache) (domain.SnapshotStore, func(), error) {
	noop := func() {}
	sc := cfg.Exchange.Snapshot
	switch sc.Backend {
	case "", "none":
		return nil, noop, nil
	case "file":
		store, err := persistence.NewFileStore(sc.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open file snapshot store: %w", err)
		}
		return store, noop, nil
	case "redis":
		if redisCache == nil {
			return nil, noop, errors.New("redis snapshot backend requires redis")
		}
		return persistence.NewRedisStore(redisCache, sc.KeyPrefix), noop, nil
	case "mysql":
		var database *db.DB
		err := utils.RetryWithBackoff(ctx, connectAttempts, 500*time.Millisecond, 5*time.Second, func() error {
			var err error
			database, err = db.Init(ctx, db.Config{
				Driver:             cfg.Database.Driver,
				DSN:                cfg.Database.DSN,
				MaxOpenConns:       cfg.Database.MaxOpenConns,
				MaxIdleConns:       cfg.Database.MaxIdleConns,
				ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
				LogEnabled:         cfg.Database.LogEnabled,
				SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
			})
			return err
		})
		if err != nil {
			return nil, noop, fmt.Errorf("init database: %w", err)
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				logger.Error(context.Background(), "Failed to close database", "error", err)
			}
		}
		store, err := persistence.NewMySQLStore(ctx, database, sc.KeyPrefix)
		if err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("open mysql snapshot store: %w", err)
		}
		return store, closeDB, nil
	}
	return nil, noop, fmt.Errorf("unknown snapshot backend: %s", sc.Backend)
}

func createHTTPServer(cfg *config.Config, exchange *application.Exchange, limiter ratelimit.RateLimiter, collector metrics.MetricsCollector) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinCORSMiddleware(),
		middleware.GinMetricsMiddleware(collector),
	)
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	httphandler.NewExchangeHandler(exchange, httphandler.WithAdminRoutes(cfg.Admin.Enabled)).RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
