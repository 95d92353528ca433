package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"koffey/internal/app"
	"koffey/internal/config"
	"koffey/internal/queue"
	"koffey/internal/store"
	"koffey/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("dotenv load failed: %v", err)
	}
	cmd := os.Args[1]
	cfg, err := config.Load(os.Getenv("KF_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stderr, "koffeyd ", log.LstdFlags|log.LUTC)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		runServe(ctx, cfg, logger)
	case "worker":
		runWorker(ctx, cfg, logger)
	case "migrate":
		runMigrate(ctx, cfg)
	default:
		usage()
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *log.Logger) {
	appInstance, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app init error: %v", err)
	}
	defer appInstance.Close()

	logger.Printf("serving on %s storage=%s llm=%s", cfg.HTTP.Addr, cfg.Storage.Backend, cfg.LLM.BaseURL)
	if err := appInstance.Serve(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runWorker(ctx context.Context, cfg config.Config, logger *log.Logger) {
	if cfg.Redis.URL == "" {
		log.Fatalf("worker requires redis.url (or KF_REDIS_URL)")
	}
	if !cfg.SharedStorage() {
		log.Fatalf("worker requires storage backend postgres or s3, got %q", cfg.Storage.Backend)
	}
	appInstance, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app init error: %v", err)
	}
	defer appInstance.Close()
	if appInstance.Storage == nil {
		log.Fatalf("worker requires a storage backend")
	}

	q, ok := appInstance.Queue.(*queue.Queue)
	if !ok {
		log.Fatalf("worker requires a redis queue")
	}
	w := worker.New(q, appInstance.Storage, logger)
	if appInstance.Store != nil {
		w.Journal = appInstance.Store
	}
	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

func runMigrate(ctx context.Context, cfg config.Config) {
	storeInstance, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer storeInstance.Close()
	if err := store.Migrate(ctx, storeInstance.DB()); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	log.Println("migrations applied")
}

func usage() {
	fmt.Println("Usage: koffeyd <serve|worker|migrate>")
}
