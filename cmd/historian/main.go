// cmd/historian/main.go drains arena lifecycle events from Redis and persists
// them to Postgres in batches.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/cache"
	"github.com/sergioBarril/smashbot/internal/config"
	"github.com/sergioBarril/smashbot/internal/database"
	"github.com/sergioBarril/smashbot/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		return errors.New("historian needs both DATABASE_URL and REDIS_ADDR")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// history writes never read arenas back, so no ladder is needed
	pg := database.NewPostgres(pool, nil)
	svc := historian.New(rdb, pg, historian.Config{
		Queue:      cfg.EventQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlushDelay(),
		Inactivity: cfg.HistorianInactivity,
	}, clockwork.NewRealClock(), logger.WithField("component", "historian"))
	return svc.Run(ctx)
}
