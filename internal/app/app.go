package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/personal-ledger/internal/api"
	"github.com/ayo6706/personal-ledger/internal/api/handler"
	"github.com/ayo6706/personal-ledger/internal/api/middleware"
	"github.com/ayo6706/personal-ledger/internal/config"
	"github.com/ayo6706/personal-ledger/internal/db"
	"github.com/ayo6706/personal-ledger/internal/idempotency"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/lock"
	"github.com/ayo6706/personal-ledger/internal/observability"
	"github.com/ayo6706/personal-ledger/internal/repository"
	"github.com/ayo6706/personal-ledger/internal/repository/memory"
	"github.com/ayo6706/personal-ledger/internal/service"
	"github.com/ayo6706/personal-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// ledgerBackend is what both store implementations provide.
type ledgerBackend interface {
	ledger.Store
	service.AccountStore
	service.TotalsReader
}

// backend bundles the selected store with its idempotency table and the
// readiness probes it contributes.
type backend struct {
	store  ledgerBackend
	idem   idempotency.Backend
	health map[string]handler.Pinger
	close  func()
}

// Run bootstraps the HTTP server and reconciliation worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)
	middleware.SetTokenTTL(cfg.JWTTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	redisClient, err := connectRedis(cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		be.health["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	guard, err := newGuard(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	var cache redis.Cmdable
	if redisClient != nil {
		cache = redisClient
	}
	idemStore := idempotency.NewStore(cache, be.idem, cfg.IdempotencyTTL, logger)

	processor := ledger.NewProcessor(be.store, guard,
		ledger.WithLockTimeout(cfg.LockTimeout),
		ledger.WithLogger(logger),
	)
	accountSvc := service.NewAccountService(be.store, cfg.Agency)
	webhookSvc := service.NewWebhookService(processor, idemStore, cfg.WebhookHMACKey, cfg.WebhookSkipSignature, logger)
	reconciler := worker.NewReconciliationWorker(service.NewReconciliationService(be.store)).
		WithInterval(cfg.ReconciliationInterval)

	router := api.NewRouter(api.Deps{
		Logger:      logger,
		Accounts:    accountSvc,
		Ledger:      processor,
		History:     ledger.NewHistoryReader(be.store),
		Webhooks:    webhookSvc,
		Idempotency: idemStore,
		Health:      be.health,
		PublicRPS:   cfg.PublicRateLimitRPS,
		AuthRPS:     cfg.AuthRateLimitRPS,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("store", cfg.LedgerStore),
			zap.String("guard", cfg.Guard),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		stopWorker := reconciler.Run(gctx)
		logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

		<-gctx.Done()
		logger.Info("shutdown signal received")
		stopWorker()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.LedgerStore == config.StoreMemory {
		logger.Warn("using in-memory ledger store; balances are lost on restart")
		return &backend{
			store:  memory.NewStore(),
			idem:   idempotency.NewMemoryBackend(),
			health: map[string]handler.Pinger{},
			close:  func() {},
		}, nil
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	poolCfg := db.DefaultPoolConfig()
	poolCfg.MaxConns = cfg.DBMaxConns
	pool, err := db.Connect(ctx, cfg.DatabaseURL, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	store := repository.NewStore(pool)
	return &backend{
		store:  store,
		idem:   repository.NewIdempotencyBackend(pool),
		health: map[string]handler.Pinger{"database": store},
		close:  pool.Close,
	}, nil
}

// connectRedis returns nil when Redis is optional and unreachable; the
// idempotency cache then falls through to its backend.
func connectRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	required := cfg.Guard == config.GuardRedis
	if strings.TrimSpace(cfg.RedisURL) == "" {
		if required {
			return nil, errors.New("REDIS_URL is required when GUARD=redis")
		}
		return nil, nil
	}
	client, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		if required {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Warn("redis unavailable, idempotency cache disabled", zap.Error(err))
		return nil, nil
	}
	return client, nil
}

func newGuard(cfg *config.Config, client *redis.Client, logger *zap.Logger) (ledger.Guard, error) {
	switch cfg.Guard {
	case config.GuardRedis:
		if client == nil {
			return nil, errors.New("redis guard requires a redis client")
		}
		// Lock expiry must outlive the longest wait plus commit.
		return lock.NewRedisGuard(client,
			lock.WithExpiry(4*cfg.LockTimeout),
			lock.WithLogger(logger),
		), nil
	default:
		return ledger.NewLocalGuard(), nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
