package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/sms-assistant/internal/api"
	"github.com/LeventeLantos/sms-assistant/internal/cache"
	"github.com/LeventeLantos/sms-assistant/internal/client"
	"github.com/LeventeLantos/sms-assistant/internal/config"
	"github.com/LeventeLantos/sms-assistant/internal/delivery"
	"github.com/LeventeLantos/sms-assistant/internal/dialog"
	"github.com/LeventeLantos/sms-assistant/internal/identity"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
	"github.com/LeventeLantos/sms-assistant/internal/scheduler"
	"github.com/LeventeLantos/sms-assistant/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("sms assistant exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	msgCache, locker, closeCache, err := openCache(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeCache()

	gw := client.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	sender := delivery.NewSender(gw, store.Messages(), delivery.Options{
		MaxRetries:     cfg.Gateway.MaxRetries,
		BaseDelay:      cfg.Gateway.BaseDelay,
		ContentMax:     cfg.Assistant.ContentMax,
		AllowMockSend:  cfg.Gateway.AllowMockSend,
		DefaultDevices: cfg.Gateway.DefaultDevices,
	}, log).WithCache(msgCache)

	dispatcher := delivery.NewDispatcher(sender, cfg.Delivery.Workers, cfg.Delivery.QueueSize, log)
	dispatcher.Start()

	engine := dialog.New(dialog.Config{
		Name:           cfg.Assistant.Name,
		EmergencyLine:  cfg.Assistant.EmergencyLine,
		BookingBaseURL: cfg.Assistant.BookingBaseURL,
	})
	opts := service.Options{
		SystemNumber:   cfg.Assistant.SystemNumber,
		SenderNumber:   cfg.Assistant.SenderNumber,
		DefaultDevices: cfg.Gateway.DefaultDevices,
		ContentMax:     cfg.Assistant.ContentMax,
	}
	resolver := identity.NewResolver(store, locker, log)
	assistant := service.NewAssistant(store, engine, resolver, locker, dispatcher, opts, log)
	notifier := service.NewNotifier(store.Messages(), engine, dispatcher, opts, log).WithSyncer(sender)

	sweeper := service.NewSweeper(store.Messages(), dispatcher, service.SweepOptions{
		BatchSize:  cfg.Sweeper.BatchSize,
		MaxAge:     cfg.Sweeper.MaxAge,
		StaleAfter: cfg.Sweeper.StaleAfter,
	}, log)
	sched, err := scheduler.New("pending-sweeper", cfg.Sweeper.Interval, func(ctx context.Context) error {
		_, err := sweeper.Tick(ctx)
		return err
	}, log)
	if err != nil {
		return err
	}
	sched.Start()

	h := api.NewHandler(assistant, notifier, store, sched, log)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h, api.NewRateLimiter(cfg.RateLimit.PerMinute))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("sms assistant starting",
		"addr", cfg.Server.Address,
		"env", cfg.Env,
		"postgres", cfg.Database.PostgresURL != "",
		"redis", cfg.Redis.Enabled,
		"gateway_configured", cfg.Gateway.Configured(),
		"mock_send", cfg.Gateway.AllowMockSend,
		"sweep_interval", cfg.Sweeper.Interval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		sched.Stop()
		srvErr := srv.Shutdown(shutdownCtx)
		dispErr := dispatcher.Stop(shutdownCtx)
		return errors.Join(srvErr, dispErr)
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (repo.Store, func(), error) {
	if cfg.PostgresURL == "" {
		log.Warn("POSTGRES_URL not set; using in-memory store")
		return repo.NewMemoryStore(), func() {}, nil
	}

	db, err := repo.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	store := repo.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

func openCache(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (cache.MessageCache, cache.Locker, func(), error) {
	if !cfg.Enabled {
		log.Info("redis disabled; using in-process cache and locks")
		return cache.NewLocalCache(cfg.TTL), cache.NewLocalLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedisCache(rdb, cfg.TTL), cache.NewRedisLocker(rdb, cfg.LockTTL), func() { _ = rdb.Close() }, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
