package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/infra/metrics"
	"fare-alerts/internal/usecase/curation"
	"fare-alerts/internal/usecase/ledger"
	"fare-alerts/internal/usecase/ranking"
)

// notifyTimeout bounds one transport hand-off. A timeout is a failed
// delivery and leaves no quota or suppression record.
const notifyTimeout = 5 * time.Second

// Service decides which candidate deals reach the user as alerts and keeps
// the ledger in sync with what was actually sent.
type Service struct {
	ledger   *ledger.Ledger
	notifier domain.Notifier
	history  domain.HistoryRepo
	log      zerolog.Logger
	nowFn    func() time.Time
}

// NewService wires the orchestrator. history may be nil when the host does
// not keep alert history.
func NewService(led *ledger.Ledger, notifier domain.Notifier, history domain.HistoryRepo, logger zerolog.Logger) *Service {
	return &Service{
		ledger:   led,
		notifier: notifier,
		history:  history,
		log:      logger,
		nowFn:    time.Now,
	}
}

// DeliverAlerts runs the alert path for one user: watchlist-only filter,
// ranking, quiet hours, dedup, quota cut, then per-deal hand-off. Returns
// the deals that were confirmed sent, in rank order.
func (s *Service) DeliverAlerts(ctx context.Context, candidates []domain.Deal, profile domain.UserProfile) []domain.Deal {
	if !profile.Alerts.Enabled {
		metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonDisabled).Add(float64(len(candidates)))
		return nil
	}
	start := time.Now()
	defer func() { metrics.DeliverySeconds.Observe(time.Since(start).Seconds()) }()

	// The whole check-then-deliver sequence holds the user's ledger lock so
	// concurrent triggers for one user cannot both pass the quota check.
	unlock := s.ledger.LockUser(profile.ID)
	defer unlock()

	now := s.nowFn().UTC()

	if profile.Alerts.WatchlistOnly && profile.Plan().WatchlistOnlyOK {
		candidates = watchlistMatches(candidates, profile)
	}

	ranked := ranking.Rank(candidates, profile)

	// Quiet hours suppress the whole batch, not individual deals.
	if s.ledger.IsQuietHours(profile.Alerts, profile.Timezone, now) {
		metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonQuietHours).Add(float64(len(ranked)))
		s.log.Debug().Str("user", profile.ID.String()).Msg("delivery: quiet hours, batch suppressed")
		return nil
	}

	survivors := ranked[:0:0]
	for _, rd := range ranked {
		if s.ledger.IsSuppressed(ctx, profile.ID, rd.Deal.ID, now) {
			metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonDuplicate).Inc()
			continue
		}
		survivors = append(survivors, rd)
	}

	remaining := s.ledger.RemainingQuota(ctx, profile, now)
	if len(survivors) > remaining {
		metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonQuota).Add(float64(len(survivors) - remaining))
		survivors = survivors[:remaining]
	}

	delivered := make([]domain.Deal, 0, len(survivors))
	for _, rd := range survivors {
		if err := s.notify(ctx, profile, rd.Deal); err != nil {
			// The deal stays unrecorded and is retry-eligible on a later pass.
			metrics.AlertSendErrors.Inc()
			s.log.Error().Err(err).
				Str("user", profile.ID.String()).
				Str("deal", rd.Deal.ID.String()).
				Msg("delivery: hand-off failed")
			continue
		}
		sentAt := s.nowFn().UTC()
		s.ledger.RecordDelivery(ctx, profile, rd.Deal.ID, sentAt)
		s.saveHistory(ctx, profile.ID, rd.Deal, sentAt)
		metrics.AlertsDelivered.Inc()
		delivered = append(delivered, rd.Deal)
	}
	return delivered
}

// DisplayDeals is the second entry point: an ordered, bounded list for the
// UI. It bypasses quota, suppression, and quiet hours entirely.
func (s *Service) DisplayDeals(candidates []domain.Deal, profile domain.UserProfile) []domain.RankedDeal {
	metrics.DisplayRequests.Inc()
	return curation.Curate(ranking.Rank(candidates, profile), profile.Tier)
}

func (s *Service) notify(ctx context.Context, profile domain.UserProfile, deal domain.Deal) error {
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	return s.notifier.Notify(nctx, profile, deal)
}

func (s *Service) saveHistory(ctx context.Context, userID uuid.UUID, deal domain.Deal, sentAt time.Time) {
	if s.history == nil {
		return
	}
	rec := domain.AlertRecord{
		ID:     uuid.New(),
		UserID: userID,
		Deal:   deal,
		SentAt: sentAt,
	}
	if !deal.ExpiresAt.IsZero() {
		expires := deal.ExpiresAt
		rec.ExpiresAt = &expires
	}
	if err := s.history.SaveAlert(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("user", userID.String()).Msg("delivery: history write failed")
	}
}

func watchlistMatches(deals []domain.Deal, profile domain.UserProfile) []domain.Deal {
	out := deals[:0:0]
	for _, d := range deals {
		if profile.MatchesWatchlist(d) {
			out = append(out, d)
		}
	}
	return out
}
