package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fieldgate/fieldgate/pkg/catalog"
	"github.com/fieldgate/fieldgate/pkg/search"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

var (
	dbDriver  = flag.String("db-driver", getEnv("FIELDGATE_DB_DRIVER", "postgres"), "Database driver (postgres or sqlite3)")
	dbURL     = flag.String("db-url", getEnv("FIELDGATE_DB_URL", "postgres://localhost/fieldgate?sslmode=disable"), "Database connection URL")
	schedule  = flag.String("schedule", "30 3 * * *", "Cron schedule for the full reindex (default: 03:30 UTC)")
	workers   = flag.Int("workers", 4, "Concurrent reindex workers per model")
	runOnce   = flag.Bool("run-once", false, "Rebuild the search features once and exit")
	onlyModel = flag.String("model", "", "Reindex a single model (only with --run-once)")
	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("component", "fieldgate-indexer")

	db, err := sql.Open(*dbDriver, *dbURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	dialect := storage.Dialect(*dbDriver)
	registry, err := catalog.Registry()
	if err != nil {
		log.WithError(err).Fatal("Model registry failed integrity check")
	}

	store := storage.NewStore(db, dialect)
	features := search.NewFeatureStore(db, dialect)
	reindexer := search.NewReindexer(registry, store, features, log, *workers)

	if *runOnce {
		ctx := context.Background()
		if *onlyModel != "" {
			d, ok := registry.Get(*onlyModel)
			if !ok {
				log.Fatalf("Unknown model %q", *onlyModel)
			}
			n, err := reindexer.ReindexModel(ctx, d)
			if err != nil {
				log.WithError(err).Fatal("Reindex failed")
			}
			log.WithField("indexed", n).Info("Reindex completed")
			return
		}
		if err := reindexer.ReindexAll(ctx); err != nil {
			log.WithError(err).Fatal("Reindex failed")
		}
		log.Info("Reindex completed")
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		log.Info("Starting scheduled reindex")
		if err := reindexer.ReindexAll(context.Background()); err != nil {
			log.WithError(err).Error("Scheduled reindex failed")
			return
		}
		log.Info("Scheduled reindex completed")
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule reindex")
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("fieldgate-indexer started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	<-c.Stop().Done()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
