// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sergioBarril/smashbot/internal/app"
	"github.com/sergioBarril/smashbot/internal/arena"
	"github.com/sergioBarril/smashbot/internal/auth"
	"github.com/sergioBarril/smashbot/internal/cache"
	"github.com/sergioBarril/smashbot/internal/config"
	"github.com/sergioBarril/smashbot/internal/confirmation"
	"github.com/sergioBarril/smashbot/internal/database"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/handlers"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/ranked"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// roster is what the server needs from the identity provider.
type roster interface {
	matchmaking.Roster
	handlers.TierAssigner
}

// backend is the storage the engine runs on.
type backend struct {
	store  store.Store
	sets   store.GameSets
	roster roster
	ladder *ladder.Ladder
	close  func()
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	signer, err := loadSigner(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up token signer")
	}

	// `server token <player-id> [admin]` prints a token and exits.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(signer, os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("failed to issue token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, signer, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("server stopped")
}

func loadSigner(cfg config.Config) (*auth.Signer, error) {
	if cfg.TokenKeyPath != "" {
		return auth.LoadSigner(cfg.TokenKeyPath, cfg.TokenExpireTime)
	}
	return auth.NewSigner(cfg.TokenExpireTime)
}

func printToken(signer *auth.Signer, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: server token <player-id> [admin]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("player id: %w", err)
	}
	token, err := signer.CreateJWT(auth.Identity{PlayerID: id, Admin: len(args) > 1 && args[1] == "admin"})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(ctx context.Context, cfg config.Config, signer *auth.Signer, logger *logrus.Logger) error {
	format, err := cfg.Format()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	sink, closeSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	clock := clockwork.NewRealClock()
	a := app.New(ctx, app.Options{
		Store:  be.store,
		Sets:   be.sets,
		Roster: be.roster,
		Ladder: be.ladder,
		Events: sink,
		Clock:  clock,
		Log:    logger,
		Confirmation: confirmation.Config{
			MatchTimeout:  cfg.MatchTimeout,
			CancelTimeout: cfg.CancelTimeout,
			RankedFormat:  format,
		},
		Arena: arena.Config{
			ArenaPrefix:  cfg.ArenaPrefix,
			RankedPrefix: cfg.RankedPrefix,
			KeepFree:     cfg.KeepFreeChannels,
			CloseGrace:   cfg.CloseGrace,
		},
		Ranked: ranked.Config{
			StepTimeout:  cfg.RankedStepTimeout,
			Starters:     cfg.StarterStages,
			Counterpicks: cfg.CounterpickStages,
		},
	})
	defer a.Shutdown()

	report, err := a.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover arenas: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"channels":  report.Channels,
		"playing":   report.Playing,
		"discarded": report.Discarded,
		"rebound":   report.Rebound,
		"ranked":    len(report.Ranked),
	}).Info("recovered arena state")

	sweeper, err := arena.NewSweeper(ctx, a.Arenas, cfg.SweepAt, loc, clock, logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.WithError(err).Warn("sweeper shutdown failed")
		}
	}()
	if next, err := sweeper.NextRun(); err == nil {
		logger.WithField("next_run", next).Info("daily sweep scheduled")
	}

	srv := &handlers.Server{
		Matcher:        a.Matcher,
		Confirm:        a.Confirm,
		Arenas:         a.Arenas,
		Ranked:         a.Ranked,
		Store:          be.store,
		Ladder:         be.ladder,
		Notify:         a.Notify,
		Tiers:          be.roster,
		Signer:         signer,
		Log:            logger,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openBackend uses Postgres when DATABASE_URL is set and memory otherwise.
func openBackend(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		l, err := ladder.New(cfg.LadderTiers())
		if err != nil {
			return nil, err
		}
		logger.Warn("DATABASE_URL not set, state will not survive a restart")
		mem := store.NewMemoryStore()
		return &backend{store: mem, sets: mem, roster: store.NewMemoryRoster(l), ladder: l, close: func() {}}, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	l, err := loadLadder(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.WithField("tiers", len(l.All())).Info("connected to database")
	pg := database.NewPostgres(pool, l)
	return &backend{store: pg, sets: pg, roster: database.NewRoster(pool, l), ladder: l, close: pool.Close}, nil
}

func loadLadder(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) (*ladder.Ladder, error) {
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	tiers, err := database.LoadTiers(ctx, pool)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		if err := database.SeedTiers(ctx, pool, cfg.LadderTiers()); err != nil {
			return nil, err
		}
		if tiers, err = database.LoadTiers(ctx, pool); err != nil {
			return nil, err
		}
	}
	return ladder.New(tiers)
}

// openSink publishes lifecycle events to Redis when REDIS_ADDR is set.
func openSink(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (events.Sink, func(), error) {
	if cfg.RedisAddr == "" {
		return events.Nop{}, func() {}, nil
	}
	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.WithField("queue", cfg.EventQueue).Info("publishing arena events to redis")
	return cache.NewPublisher(rdb, cfg.EventQueue), func() { closeRedis(rdb, logger) }, nil
}

func closeRedis(rdb *redis.Client, logger logrus.FieldLogger) {
	if err := rdb.Close(); err != nil {
		logger.WithError(err).Warn("redis close failed")
	}
}
