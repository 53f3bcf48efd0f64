package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fare-alerts/internal/adapters/repo"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/infra/cache"
	"fare-alerts/internal/infra/config"
	"fare-alerts/internal/infra/db"
	applog "fare-alerts/internal/infra/log"
	"fare-alerts/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: no database connection")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	debounce := cache.NewRedis(redisClient)

	var refreshQueue domain.RefreshQueue
	switch cfg.Queues.Backend {
	case "rabbitmq":
		rq, err := queue.NewRabbitRefreshQueue(cfg.Queues.AMQPURL, cfg.Queues.RefreshKey)
		if err != nil {
			log.Fatal().Err(err).Msg("scheduler: rabbitmq unavailable")
		}
		defer rq.Close()
		refreshQueue = rq
	default:
		refreshQueue = queue.NewRedisRefreshQueue(redisClient, cfg.Queues.RefreshKey)
	}

	logger.Info().Dur("interval", cfg.Alerts.RefreshInterval).Msg("scheduler: started")

	ticker := time.NewTicker(cfg.Alerts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: stopping")
			return
		case <-ticker.C:
		}

		users, err := repoAdapter.ListAlertableUsers(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: failed to list users")
			continue
		}
		for _, userID := range users {
			job := domain.RefreshJob{
				UserID:      userID,
				Trigger:     domain.TriggerBackground,
				RequestedAt: time.Now().UTC(),
			}
			err := debounce.Once(ctx, "refresh:"+userID.String(), cfg.Alerts.RefreshDebounce, func() error {
				return refreshQueue.Enqueue(ctx, job)
			})
			if err != nil {
				logger.Error().Err(err).Str("user", userID.String()).Msg("scheduler: enqueue failed")
			}
		}
	}
}
