package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldgate/fieldgate/pkg/api"
	"github.com/fieldgate/fieldgate/pkg/auth"
	"github.com/fieldgate/fieldgate/pkg/catalog"
	"github.com/fieldgate/fieldgate/pkg/cache"
	"github.com/fieldgate/fieldgate/pkg/config"
	"github.com/fieldgate/fieldgate/pkg/middleware"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/observability"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/search"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

var version = "dev"

func main() {
	seed := flag.Bool("seed", false, "Seed default groups and users, then continue serving")
	resetPerms := flag.Bool("reset-perms", false, "Rebuild the entire grant store from model policies before serving")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	dialect := storage.Dialect(cfg.Database.Driver)

	registry, err := catalog.Registry()
	if err != nil {
		logger.WithError(err).Error("Model registry failed integrity check")
		os.Exit(1)
	}

	if cfg.Database.AutoMigrate {
		if err := runMigrations(ctx, db, dialect, registry); err != nil {
			logger.WithError(err).Error("Migrations failed")
			os.Exit(1)
		}
		logger.Info("Migrations applied")
	}

	authStore := auth.NewStore(db)
	if cfg.Database.SeedDefaults || *seed {
		if err := auth.SeedDefaults(ctx, authStore); err != nil {
			logger.WithError(err).Error("Seeding defaults failed")
			os.Exit(1)
		}
		logger.Info("Default groups and users seeded")
	}

	// one Redis connection shared by the cache and the rate limiter
	var redisClient *redis.Client
	if cfg.Redis.CacheEnabled || cfg.Redis.RateLimitEnabled {
		redisClient, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var serializationCache cache.SerializationCache = cache.NoopCache{}
	if cfg.Redis.CacheEnabled {
		serializationCache = cache.NewRedisCacheFromClient(redisClient, cfg.Redis.CacheTTL)
	}

	metrics := observability.NewMetrics(nil)

	var tracerShutdown observability.ShutdownFunc
	if cfg.Observability.OTelEnabled {
		tp, err := observability.InitTracing(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing")
			os.Exit(1)
		}
		tracerShutdown = func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		}
	}

	store := storage.NewStore(db, dialect)
	resolver := perms.NewResolver(perms.NewStore(db), registry, perms.StandardGroups())
	features := search.NewFeatureStore(db, dialect)
	authManager := auth.NewManager(authStore)

	if *resetPerms {
		err := perms.ResetPermissions(ctx, db, resolver, perms.ResetDeps{
			Registry:           registry,
			SeedDefaults:       auth.SeedDefaultsTx(authStore),
			DeleteGroupsExcept: auth.DeleteGroupsExceptTx(authStore),
			ListObjects: func(ctx context.Context, tx *sql.Tx, d *model.Descriptor) ([]*model.Object, error) {
				return store.WithTx(tx).List(ctx, d, storage.ListOptions{})
			},
		})
		if err != nil {
			logger.WithError(err).Error("Permission reset failed")
			os.Exit(1)
		}
		logger.Info("Permission grants rebuilt from model policies")
	}

	server, err := api.NewServer(api.Deps{
		Registry: registry,
		DB:       db,
		Store:    store,
		Resolver: resolver,
		Features: features,
		Cache:    serializationCache,
		Metrics:  metrics,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to build API server")
		os.Exit(1)
	}

	router := mux.NewRouter()
	router.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Authentication(authManager),
		middleware.Logging(logger),
		middleware.Metrics(metrics),
	)
	if cfg.Redis.RateLimitEnabled {
		router.Use(middleware.RateLimit(middleware.NewRateLimiter(redisClient, "fieldgate")))
	}
	server.Routes(router)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "fieldgate")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, db, serializationCache, metrics, logger)

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.Register(func(ctx context.Context) error {
		return serializationCache.Close()
	})
	if tracerShutdown != nil {
		shutdown.Register(tracerShutdown)
	}

	go func() {
		logger.Infof("fieldgate %s serving %v on %s", version, registry.Names(), httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// openDatabase connects with the configured driver and pool settings.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect, registry *model.Registry) error {
	if err := perms.RunMigrations(ctx, db, dialect); err != nil {
		return fmt.Errorf("permission migrations: %w", err)
	}
	if err := auth.RunMigrations(ctx, db, dialect); err != nil {
		return fmt.Errorf("auth migrations: %w", err)
	}
	if err := search.RunMigrations(ctx, db, dialect); err != nil {
		return fmt.Errorf("search migrations: %w", err)
	}
	if err := storage.CreateSchema(ctx, db, dialect, registry); err != nil {
		return fmt.Errorf("model schema: %w", err)
	}
	return nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// startHealthServer serves liveness, readiness and metrics on the
// separate health port.
func startHealthServer(cfg *config.Config, db *sql.DB, c cache.SerializationCache, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	checker := observability.NewHealthChecker(db, c, version)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}

	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		logger.Infof("Health endpoints on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	return healthServer
}
