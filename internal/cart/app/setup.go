// Package app contains the application setup for the CartService.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abgdnv/bakery/internal/cart/handler"
	"github.com/abgdnv/bakery/internal/cart/notify"
	"github.com/abgdnv/bakery/internal/cart/service"
	"github.com/abgdnv/bakery/internal/cart/store"
	"github.com/abgdnv/bakery/internal/config"
	"github.com/abgdnv/bakery/internal/platform/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is the name the cart reports under in the gRPC health service.
const HealthServiceName = "bakery.cart"

type Dependencies struct {
	CartStore service.CartStore
	Logger    *slog.Logger
	Health    *health.Server
}

func SetupDependencies(storage store.Storage, notifier notify.Notifier, storageKey string, logger *slog.Logger) *Dependencies {
	cart := service.NewCartStore(storage, logger,
		service.WithStorageKey(storageKey),
		service.WithNotifier(notifier),
	)
	return &Dependencies{
		CartStore: cart,
		Logger:    logger,
		Health:    health.NewServer(),
	}
}

// SetupHttpHandler initializes the HTTP routes for the CartService application.
// Used by E2E tests to set up the HTTP server with the necessary routes and middleware.
func SetupHttpHandler(deps *Dependencies) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(web.RequestIDInjector)
	mux.Use(web.StructuredLogger(deps.Logger))
	mux.Use(web.Recoverer(deps.Logger))

	handler.NewAPI(deps.CartStore, deps.Logger).RegisterRoutes(mux)
	return mux
}

// SetupHttpServer creates and configures an HTTP server for the CartService application.
func SetupHttpServer(deps *Dependencies, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPServer.Port),
		Handler:           SetupHttpHandler(deps),
		ReadTimeout:       cfg.HTTPServer.Timeout.Read,
		WriteTimeout:      cfg.HTTPServer.Timeout.Write,
		IdleTimeout:       cfg.HTTPServer.Timeout.Idle,
		ReadHeaderTimeout: cfg.HTTPServer.Timeout.ReadHeader,
		MaxHeaderBytes:    cfg.HTTPServer.MaxHeaderBytes,
	}
}

// SetupGrpcServer initializes the gRPC server with the health service and, optionally, reflection.
func SetupGrpcServer(deps *Dependencies, reflectionEnabled bool) *grpc.Server {
	grpcServer := grpc.NewServer()
	if reflectionEnabled {
		reflection.Register(grpcServer)
	}
	healthpb.RegisterHealthServer(grpcServer, deps.Health)
	deps.Health.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	return grpcServer
}

// OpenStorage builds the configured storage backend. The returned cleanup releases it.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Storage, func(), error) {
	var (
		storage store.Storage
		cleanup = func() {}
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		storage = store.NewInMemoryStore()
	case config.StorageSqlite:
		s, err := store.OpenSqlite(cfg.Storage.Sqlite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		storage = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				logger.Error("Error closing sqlite storage", "error", err)
			}
		}
	case config.StoragePostgres:
		if err := store.MigratePostgres(cfg.Storage.Postgres.URL); err != nil {
			return nil, nil, err
		}
		pool, err := newDbPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		storage = store.NewPgStore(pool)
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
	logger.Info("Cart storage ready", "driver", cfg.Storage.Driver)

	if cfg.Storage.Breaker.Enabled {
		storage = store.NewBreakerStore(storage, store.BreakerSettings{
			Name:                "cart-storage-" + cfg.Storage.Driver,
			ConsecutiveFailures: cfg.Storage.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Storage.Breaker.OpenTimeout,
		})
	}
	return storage, cleanup, nil
}

// OpenNotifier builds the configured notifier. Toasts are always logged; with the nats
// driver they are also published.
func OpenNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	logNotifier := notify.NewLogNotifier(logger)
	switch cfg.Notify.Driver {
	case config.NotifyLog:
		return logNotifier, func() {}, nil
	case config.NotifyNats:
		nc, err := notify.Connect(cfg.Notify.Nats.URL, cfg.Notify.Nats.Timeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to NATS", "subject", cfg.Notify.Nats.Subject)
		natsNotifier := notify.NewNatsNotifier(nc, cfg.Notify.Nats.Subject, logger)
		cleanup := func() {
			if err := nc.Drain(); err != nil {
				logger.Error("Error draining NATS connection", "error", err)
			}
		}
		return notify.Multi{logNotifier, natsNotifier}, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify driver: %q", cfg.Notify.Driver)
	}
}

// newDbPool creates a database connection pool and pings it to fail early.
func newDbPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Postgres.Timeout)
	defer cancel()

	dbPool, err := pgxpool.New(poolCtx, cfg.Storage.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbPool.Ping(poolCtx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return dbPool, nil
}
