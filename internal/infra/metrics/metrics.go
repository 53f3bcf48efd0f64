package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	AlertsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_delivered_total",
		Help: "Alerts confirmed sent to users",
	})
	AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_suppressed_total",
		Help: "Alert candidates suppressed before delivery",
	}, []string{"reason"})
	AlertSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_send_errors_total",
		Help: "Notification transport hand-off failures",
	})
	LedgerPersistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_persist_errors_total",
		Help: "Durable writes of ledger state that exhausted retries",
	})
	RefreshJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_jobs_total",
		Help: "Refresh jobs processed by trigger",
	}, []string{"trigger"})
	DeliverySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "delivery_pass_seconds",
		Help:    "Time spent evaluating one user's candidate deals",
		Buckets: prometheus.DefBuckets,
	})
	DisplayRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "display_requests_total",
		Help: "Display-listing requests served",
	})
)

// Suppression reasons.
const (
	ReasonQuietHours = "quiet_hours"
	ReasonDuplicate  = "duplicate"
	ReasonQuota      = "quota"
	ReasonDisabled   = "disabled"
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		AlertsDelivered,
		AlertsSuppressed,
		AlertSendErrors,
		LedgerPersistErrors,
		RefreshJobs,
		DeliverySeconds,
		DisplayRequests,
	)
}

// StartServer exposes /metrics on its own listener and shuts down with ctx.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}
