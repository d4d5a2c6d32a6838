// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/auth"
	"github.com/jason-s-yu/scrimlobby/internal/cache"
	"github.com/jason-s-yu/scrimlobby/internal/config"
	"github.com/jason-s-yu/scrimlobby/internal/database"
	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/jason-s-yu/scrimlobby/internal/handlers"
	"github.com/jason-s-yu/scrimlobby/internal/lobby"
	"github.com/jason-s-yu/scrimlobby/internal/realtime"
	"github.com/jason-s-yu/scrimlobby/internal/relay"
	"github.com/jason-s-yu/scrimlobby/internal/tracking"
	_ "github.com/joho/godotenv/autoload"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := newLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg.DatabaseURL, os.Args[2:]); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		return
	}

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

// newLogger configures both the returned logger and the standard logger,
// which the internal packages log through.
func newLogger(cfg *config.Config) *logrus.Logger {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logrus.SetLevel(level)
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// runMigrate handles "migrate up", "migrate down [steps]" and "migrate status".
func runMigrate(databaseURL string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: server migrate up|down [steps]|status")
	}
	switch args[0] {
	case "up":
		return database.MigrateUp(databaseURL)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		return database.MigrateDown(databaseURL, steps)
	case "status":
		version, dirty, err := database.MigrateStatus(databaseURL)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Migration status")
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT key paths not set, using an ephemeral key pair")
		if err := auth.Init(); err != nil {
			return err
		}
	}

	if err := database.MigrateUp(cfg.DatabaseURL); err != nil {
		return err
	}
	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// Interface-typed so a disabled side stays a nil interface.
	var (
		queue     realtime.RecordQueue
		publisher realtime.RecordPublisher
		rl        relay.Relay
	)
	if cfg.HistorianEnabled {
		queue = cache.NewEventQueue(rdb, cfg.HistorianQueueName)
	}
	switch cfg.EventRelay {
	case config.RelayRedis:
		rl = relay.NewRedisRelay(rdb, "")
	case config.RelayNATS:
		var nc *nats.Conn
		nc, err = relay.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		rl = relay.NewNATSRelay(nc, "")
	}
	if rl != nil {
		publisher = rl
	}

	hub := realtime.NewHub(realtime.WithKeepaliveInterval(cfg.KeepaliveInterval))
	fanout := realtime.NewFanout(hub, publisher, queue)

	bus := events.NewBus()
	bus.Subscribe(fanout.Handle)
	if rl != nil {
		if err := rl.Start(ctx, fanout.Deliver); err != nil {
			return err
		}
		defer rl.Close()
	}

	tracker := tracking.NewClient(cfg.TrackingServiceURL, cfg.BackendURL, cfg.TrackingTimeout)
	svc := lobby.NewService(
		database.NewUnitOfWorkFactory(db, bus),
		tracker,
		lobby.WithStartPolicy(lobby.StartPolicy{
			RequireFullLobby: cfg.StartRequireFullLobby,
			RequiredPlayers:  cfg.StartRequiredPlayers,
			RequireAllReady:  cfg.StartRequireAllReady,
		}),
	)

	go hub.Run(ctx)
	go svc.RunReaper(ctx, cfg.ReaperInterval, cfg.StaleStartingTimeout)

	if cfg.UnauthenticatedWebhooks() {
		logger.WithField("environment", cfg.Environment).
			Warn("WEBHOOK_SECRET is not set, match callbacks are accepted from anyone")
	}
	api := handlers.NewAPIServer(logger, svc, hub, cfg.WebhookSecret)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":      srv.Addr,
			"relay":     cfg.EventRelay,
			"historian": cfg.HistorianEnabled,
		}).Info("Running lobby server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not complete")
	}
	bus.Wait()
	return nil
}
