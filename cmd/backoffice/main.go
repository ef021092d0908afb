package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/estate-admin/backoffice/internal/app"
	"github.com/estate-admin/backoffice/internal/observability"
	"github.com/estate-admin/backoffice/internal/platform/cache"
	"github.com/estate-admin/backoffice/internal/platform/db"
	"github.com/estate-admin/backoffice/internal/rbac"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backoffice exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	catalogue := rbac.DefaultCatalogue
	metrics := observability.NewMetrics()

	store, closeStore, err := openStore(ctx, cfg, catalogue, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	permissionCache := rbac.NewCache(
		rbac.NewBreakerSource(store, rbac.DefaultBreakerConfig(), logger),
		rbac.CacheConfig{ReloadInterval: cfg.PermissionsReloadInterval, StoreTimeout: cfg.PermissionsStoreTimeout},
		logger,
		metrics,
	)
	if err := permissionCache.Start(ctx); err != nil {
		logger.Warn("initial permission load failed, denying until the store recovers", slog.Any("error", err))
	}
	defer permissionCache.Stop()

	var broadcaster *rbac.Broadcaster
	if cfg.RedisAddr != "" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, peers will converge on the reload interval", slog.Any("error", err))
		} else {
			defer closeRedis(redisClient, logger)
			broadcaster = rbac.NewBroadcaster(redisClient, cfg.PermissionsChannel, logger)
			if err := broadcaster.Listen(ctx, permissionCache.Invalidate); err != nil {
				logger.Warn("subscribe permission bumps", slog.Any("error", err))
			}
		}
	}

	admin := rbac.NewAdmin(store, permissionCache, rbac.AdminConfig{
		StoreTimeout: cfg.PermissionsStoreTimeout,
		Publisher:    broadcaster,
		Logger:       logger,
	})

	if cfg.PermissionsBypass {
		logger.Warn("PERMISSION CHECKS BYPASSED: every catalogued check succeeds", slog.String("env", cfg.AppEnv))
	}
	engine := rbac.NewEngine(permissionCache, catalogue, rbac.EngineOptions{
		Bypass:  cfg.PermissionsBypass,
		Logger:  logger,
		Metrics: metrics,
	})

	if cfg.PermissionsBootstrapAdmin != "" {
		if err := rbac.Bootstrap(ctx, admin, cfg.PermissionsBootstrapAdmin); err != nil {
			return err
		}
		logger.Info("bootstrap administrator ready", slog.String("user", cfg.PermissionsBootstrapAdmin))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PermissionsHandler: rbac.NewHandler(logger, admin, engine, catalogue),
		Snapshots:          permissionCache,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.PermissionsStore))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return nil
	})
	return group.Wait()
}

// openStore returns the configured permission store, migrated and seeded.
func openStore(ctx context.Context, cfg *app.Config, catalogue *rbac.Catalogue, logger *slog.Logger) (rbac.Store, func(), error) {
	if cfg.PermissionsStore == app.StoreMemory {
		logger.Warn("using in-memory permission store, changes are lost on restart")
		store := rbac.NewMemoryStore(catalogue)
		if err := store.SeedCatalogue(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, err
	}
	store := rbac.NewPostgresStore(pool, catalogue)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.SeedCatalogue(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
