package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fare-alerts/internal/adapters/kv"
	"fare-alerts/internal/adapters/notifier"
	"fare-alerts/internal/adapters/repo"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/infra/config"
	"fare-alerts/internal/infra/db"
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

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: no database connection")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	store := kv.NewRedis(redisClient)
	led, err := ledger.New(ctx, store, logger.With().Str("component", "ledger").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("worker: ledger store unavailable")
	}

	var transport domain.Notifier
	switch cfg.Alerts.Transport {
	case "telegram":
		if cfg.Telegram.Token == "" {
			log.Fatal().Msg("worker: TG_BOT_TOKEN is required for the telegram transport")
		}
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("worker: failed to create telegram bot")
		}
		transport = notifier.NewTelegram(bot)
	default:
		if cfg.Push.GatewayURL == "" {
			log.Fatal().Msg("worker: PUSH_GATEWAY_URL is required for the push transport")
		}
		transport = notifier.NewPush(cfg.Push.GatewayURL, cfg.Push.Secret, repoAdapter)
	}

	core := delivery.NewService(led, transport, repoAdapter, logger.With().Str("component", "delivery").Logger())

	var refreshQueue domain.RefreshQueue
	switch cfg.Queues.Backend {
	case "rabbitmq":
		rq, err := queue.NewRabbitRefreshQueue(cfg.Queues.AMQPURL, cfg.Queues.RefreshKey)
		if err != nil {
			log.Fatal().Err(err).Msg("worker: rabbitmq unavailable")
		}
		defer rq.Close()
		refreshQueue = rq
	default:
		refreshQueue = queue.NewRedisRefreshQueue(redisClient, cfg.Queues.RefreshKey)
	}

	logger.Info().Str("transport", cfg.Alerts.Transport).Msg("worker: started")

	for {
		job, err := refreshQueue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker: stopping")
				return
			}
			logger.Error().Err(err).Msg("worker: queue pop failed")
			continue
		}
		processJob(ctx, job, repoAdapter, core, cfg.Alerts.FreshWindow, logger)
	}
}

func processJob(ctx context.Context, job domain.RefreshJob, repoAdapter *repo.Postgres,
	core *delivery.Service, freshWindow time.Duration, logger zerolog.Logger) {
	metrics.RefreshJobs.WithLabelValues(job.Trigger).Inc()

	profile, err := repoAdapter.GetProfile(ctx, job.UserID)
	if err != nil {
		logger.Error().Err(err).Str("user", job.UserID.String()).Msg("worker: profile load failed")
		return
	}
	deals, err := repoAdapter.FreshDeals(ctx, time.Now().UTC().Add(-freshWindow))
	if err != nil {
		logger.Error().Err(err).Msg("worker: deal load failed")
		return
	}

	delivered := core.DeliverAlerts(ctx, deals, profile)
	logger.Info().
		Str("user", job.UserID.String()).
		Str("trigger", job.Trigger).
		Int("candidates", len(deals)).
		Int("delivered", len(delivered)).
		Msg("worker: refresh processed")
}
