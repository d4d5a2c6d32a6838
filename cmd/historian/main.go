// cmd/historian/main.go is the worker that pops lobby event records from
// the Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/scrimlobby/internal/cache"
	"github.com/jason-s-yu/scrimlobby/internal/config"
	"github.com/jason-s-yu/scrimlobby/internal/database"
	"github.com/jason-s-yu/scrimlobby/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(
		cache.NewEventQueue(rdb, cfg.HistorianQueueName),
		database.NewEventRepository(db),
		cfg.HistorianBatchSize,
		cfg.HistorianFlush,
	)

	log.WithField("queue", cfg.HistorianQueueName).Info("Lobby historian started")
	svc.Run(ctx)
	log.Info("Lobby historian stopped")
}
