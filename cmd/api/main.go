package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fare-alerts/internal/adapters/kv"
	"fare-alerts/internal/adapters/repo"
	"fare-alerts/internal/infra/cache"
	"fare-alerts/internal/infra/config"
	"fare-alerts/internal/infra/db"
	httpinfra "fare-alerts/internal/infra/http"
	applog "fare-alerts/internal/infra/log"
	"fare-alerts/internal/infra/metrics"
	"fare-alerts/internal/infra/queue"
	"fare-alerts/internal/usecase/delivery"
	"fare-alerts/internal/usecase/ledger"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: no database connection")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	store := kv.NewRedis(redisClient)
	led, err := ledger.New(ctx, store, logger.With().Str("component", "ledger").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("api: ledger store unavailable")
	}

	// The API never sends alerts itself; the delivery service is wired
	// without a transport and used for the display path only.
	core := delivery.NewService(led, nil, nil, logger.With().Str("component", "delivery").Logger())

	refreshQueue := queue.NewRedisRefreshQueue(redisClient, cfg.Queues.RefreshKey)
	debounce := cache.NewRedis(redisClient)

	handler := httpinfra.NewHandler(core, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		refreshQueue, debounce, cfg.Alerts.RefreshDebounce, logger.With().Str("component", "api").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Register(server.Router)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: shutdown failed")
		}
	}()

	addr := ":" + strconv.Itoa(cfg.Port)
	if err := server.Start(addr); err != nil {
		logger.Info().Err(err).Msg("api: server stopped")
	}
}
