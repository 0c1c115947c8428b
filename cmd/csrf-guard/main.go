package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/redis/go-redis/v9"

	"csrf-guard/internal/config"
	"csrf-guard/internal/http/server"
	"csrf-guard/internal/infra/kvstore"
	"csrf-guard/internal/infra/logging"
	"csrf-guard/internal/infra/postgres"
	"csrf-guard/internal/metrics"
	"csrf-guard/internal/tokens"
)

func main() {
	cfg := config.Load()

	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	b, err := newBackends(context.Background(), cfg)
	if err != nil {
		logging.Error("Token storage setup failed", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer b.close()

	app, err := server.NewApp(server.Deps{
		Config:   cfg,
		Store:    b.store,
		Sessions: b.sessions,
		Metrics:  metrics.New(),
	})
	if err != nil {
		logging.Error("App setup failed", "error", err)
		b.close()
		os.Exit(1)
	}

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

type backends struct {
	store    tokens.Store
	sessions *session.Store
	closers  []func() error
}

func (b *backends) close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			logging.Warn("Closing storage failed", "error", err)
		}
	}
}

func redisConfig(cfg config.Config) kvstore.RedisConfig {
	return kvstore.RedisConfig{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	}
}

// newBackends builds the token storage selected by storage.driver. Every
// driver except session shares one token set across all clients.
func newBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Driver {
	case config.DriverKV:
		kv := kvstore.NewStore(redisConfig(cfg))
		key := cfg.Storage.KV.Key
		if key == "" {
			key = "csrf_tokens"
		}
		b.store = tokens.NewKV(kv, key, cfg.Storage.KV.TTL)
		b.closers = append(b.closers, kv.Close)

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		ns := cfg.Storage.Redis.Namespace
		if ns == "" {
			ns = "csrf"
		}
		b.store = tokens.NewRedis(rdb, ns)
		b.closers = append(b.closers, rdb.Close)
		logging.Info("Using redis for token storage", "addr", cfg.Storage.Redis.Addr, "namespace", ns)

	case config.DriverPostgres:
		db := postgres.NewDB()
		conn, err := db.Get(cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, conn); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.store = postgres.NewTokenStore(db, cfg.Storage.Postgres.DSN)
		b.closers = append(b.closers, db.Close)
		logging.Info("Using postgres for token storage")

	case config.DriverMemory:
		b.store = tokens.NewMemory()
		logging.Info("Using in-process memory for token storage", "shared", true)

	default:
		kv := kvstore.NewStore(redisConfig(cfg))
		b.sessions = session.New(session.Config{
			Storage:    kv,
			Expiration: cfg.Session.Expiration,
			KeyLookup:  cfg.Session.KeyLookup,
		})
		b.closers = append(b.closers, kv.Close)
		logging.Info("Using session scoped token storage", "key_lookup", cfg.Session.KeyLookup)
	}

	return b, nil
}

// startServer starts the Fiber app and listens for shutdown signals.
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
