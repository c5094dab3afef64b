// Package main is the entry point for the wallet API. It wires the ledger
// store, cache, gateway, notifier and reconciliation sweeper, then serves
// HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caredit/internal/config"
	"caredit/internal/handlers"
	"caredit/internal/logging"
	"caredit/internal/middleware"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/repositories/cache"
	"caredit/internal/repositories/memory"
	"caredit/internal/routes"
	"caredit/internal/services/gateway"
	"caredit/internal/services/limits"
	"caredit/internal/services/notification"
	"caredit/internal/services/reconciliation"
	"caredit/internal/services/transaction"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load environment variables
	config.LoadEnv()
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer closeStore()

	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		client := cache.NewRedisClient(&cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheService = cache.NewCacheService(client, cfg.Redis.TTL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cacheService.HealthCheck(ctx); err != nil {
			logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
			_ = cacheService.Close()
			cacheService = nil
		} else {
			logger.Info("connected to redis", zap.String("host", cfg.Redis.Host))
		}
		cancel()
	}
	// keep a nil *CacheService out of the interfaces below
	var accountCache transaction.AccountCache
	var healthCache handlers.HealthChecker
	if cacheService != nil {
		accountCache = cacheService
		healthCache = cacheService
		defer func() {
			if err := cacheService.Close(); err != nil {
				logger.Warn("failed to close redis", zap.Error(err))
			}
		}()
	}

	breaker, err := openGateway(cfg, logger)
	if err != nil {
		logger.Fatal("failed to configure payment gateway", zap.Error(err))
	}

	notifier := notification.Emitter(notification.NewLogEmitter(logger))
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaEmitter := notification.NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = kafkaEmitter.Close() }()
		notifier = notification.Multi{notifier, kafkaEmitter}
		logger.Info("publishing notifications to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	evaluator := limits.NewEvaluator(limits.Defaults{
		Daily:   cfg.Limits.Daily,
		Monthly: cfg.Limits.Monthly,
		Single:  cfg.Limits.Single,
	}, limits.WithLocation(cfg.Limits.Location))

	var gw gateway.Gateway
	if breaker != nil {
		gw = breaker
	}
	txService := transaction.NewService(store, evaluator, gw, accountCache, notifier, logger, transaction.Config{
		Fees: transaction.FeeSchedule{
			models.TransactionTypeTransfer:    cfg.Fees.Transfer,
			models.TransactionTypeWithdrawal:  cfg.Fees.Withdrawal,
			models.TransactionTypePayment:     cfg.Fees.Payment,
			models.TransactionTypeBillPayment: cfg.Fees.BillPayment,
		},
		DefaultCurrency: cfg.DefaultCurrency,
		RedirectURL:     cfg.Gateway.RedirectURL,
	})

	workerOpts := []reconciliation.WorkerOption{
		reconciliation.WithNotifier(notifier),
	}
	if cacheService != nil {
		workerOpts = append(workerOpts,
			reconciliation.WithEventMemory(cacheService, cfg.Reconcile.EventMemoryTTL),
			reconciliation.WithAccountCache(cacheService),
		)
	}
	worker := reconciliation.NewWorker(store, gw, logger, workerOpts...)

	var sweeperOpts []reconciliation.SweeperOption
	if gw != nil {
		sweeperOpts = append(sweeperOpts, reconciliation.WithVerifier(worker))
	}
	sweeper := reconciliation.NewSweeper(store, accountCache, notifier, logger, reconciliation.SweeperConfig{
		Interval:        cfg.Reconcile.SweepInterval,
		PendingTTL:      cfg.Reconcile.PendingTTL,
		PayoutStaleness: cfg.Reconcile.PayoutStaleness,
	}, sweeperOpts...)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	app := fiber.New(fiber.Config{
		AppName:      "caredit " + version,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())

	// CORS middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))

	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Use("/api/transactions", limiter.New(limiter.Config{
		Max:        config.GetIntEnv("RATE_LIMIT_PER_MINUTE", 60),
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	h := routes.Handlers{
		Auth:         middleware.NewAuthMiddleware(cfg.JWTSecret, logger),
		Health:       handlers.NewHealthHandler(store, healthCache, nil, version),
		Account:      handlers.NewAccountHandler(txService, logger),
		Transactions: handlers.NewTransactionHandler(txService, logger),
		Limits:       handlers.NewLimitsHandler(limits.NewService(store, evaluator, logger), logger),
	}
	if breaker != nil {
		h.Health = handlers.NewHealthHandler(store, healthCache, breaker, version)
		h.Webhooks = handlers.NewWebhookHandler(worker, breaker.SignatureHeader(), logger)
		h.Verify = handlers.NewVerifyHandler(worker, logger)
	}
	routes.SetupRoutes(app, h)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweeper()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (repositories.LedgerStore, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory ledger store; data is lost on restart")
		return memory.NewLedgerStore(), func() {}, nil
	case "postgres", "":
		db, err := repositories.Open(repositories.DBConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Name:            cfg.Database.Name,
			SSLMode:         cfg.Database.SSLMode,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				if err := sqlDB.Close(); err != nil {
					logger.Warn("failed to close database connection", zap.Error(err))
				}
			}
		}
		return repositories.NewGormLedgerStore(db), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Database.Driver)
	}
}

// openGateway returns nil when no provider is configured; deposits and
// payouts then fail with ErrGatewayUnreachable.
func openGateway(cfg *config.Config, logger *zap.Logger) (*gateway.Breaker, error) {
	var provider gateway.Gateway
	switch cfg.Gateway.Provider {
	case "none", "":
		logger.Warn("no payment gateway configured")
		return nil, nil
	case "flutterwave":
		flw, err := gateway.NewFlutterwave(gateway.FlutterwaveConfig{
			BaseURL:       cfg.Gateway.BaseURL,
			SecretKey:     cfg.Gateway.SecretKey,
			WebhookSecret: cfg.Gateway.WebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		provider = flw
	case "stripe":
		s, err := gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     cfg.Gateway.SecretKey,
			WebhookSecret: cfg.Gateway.WebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		provider = s
	default:
		return nil, fmt.Errorf("unknown GATEWAY_PROVIDER %q", cfg.Gateway.Provider)
	}

	breakerCfg := gateway.DefaultBreakerConfig()
	breakerCfg.Timeout = cfg.Gateway.Timeout
	logger.Info("payment gateway configured", zap.String("provider", provider.Name()))
	return gateway.NewBreaker(provider, breakerCfg, logger), nil
}
