package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-karttracker/internal/config"
	"backend-karttracker/internal/db"
	"backend-karttracker/internal/kv"
	"backend-karttracker/internal/logging"
	"backend-karttracker/internal/server"
	"backend-karttracker/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(context.Context, config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	setupMetrics    func(config.Config, io.Writer) (telemetry.Shutdown, error)
	run             func(context.Context, config.Config, zerolog.Logger, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		setupMetrics:    telemetry.Setup,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := logging.New(os.Stdout, cfg.LogLevel)
	ctx := context.Background()

	shutdownMetrics, err := deps.setupMetrics(cfg, os.Stderr)
	if err != nil {
		log.Error().Err(err).Msg("metrics disabled")
		shutdownMetrics = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			log.Warn().Err(err).Msg("metrics flush failed")
		}
	}()

	// Postgres only backs history; other backends never open a pool.
	var pg *pgxpool.Pool
	if cfg.HistoryBackend == kv.BackendPostgres {
		pg, err = deps.connectPostgres(ctx, cfg)
		if err != nil {
			log.Error().Err(err).Msg("postgres connection failed")
		}
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, log, pg, rdb, signals, nil); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var newServer = server.NewServer

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, log zerolog.Logger, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv, err := newServer(ctx, cfg, log, pg, rdb)
	if err != nil {
		return err
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()
	log.Info().Str("addr", cfg.ServerPort).Msg("server listening")

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			release(srv, pg, rdb)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = shutdownFn(srv.App, shutdownCtx)
	release(srv, pg, rdb)
	if err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// release stops background work before closing the connections it uses.
func release(srv *server.Server, pg *pgxpool.Pool, rdb *redis.Client) {
	srv.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
