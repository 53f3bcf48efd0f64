package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/infra/metrics"
)

// SuppressionWindow is the minimum interval between repeat alerts for the
// same (user, deal) pair.
const SuppressionWindow = 12 * time.Hour

const (
	// maxSuppressionPerUser caps the per-user suppression map. An entry
	// evicted under pressure is treated as never sent.
	maxSuppressionPerUser = 256
	persistAttempts       = 3
	localDayFormat        = "2006-01-02"
)

// Ledger tracks per-user delivery quotas and recently-notified deals. State
// is held in memory, serialized per user, and mirrored to a durable KV store
// after every mutation.
type Ledger struct {
	store domain.KVStore
	log   zerolog.Logger

	mu    sync.Mutex
	users map[uuid.UUID]*userState
}

type userState struct {
	mu         sync.Mutex
	deliveryMu sync.Mutex
	loaded     bool
	quota      domain.QuotaRecord
	sent       map[uuid.UUID]time.Time
}

// New builds a Ledger over the durable store. An unreachable store is a
// fatal startup condition.
func New(ctx context.Context, store domain.KVStore, logger zerolog.Logger) (*Ledger, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ledger store unavailable: %w", err)
	}
	return &Ledger{
		store: store,
		log:   logger,
		users: make(map[uuid.UUID]*userState),
	}, nil
}

func quotaKey(userID uuid.UUID) string {
	return "quota:" + userID.String()
}

func suppressKey(userID uuid.UUID) string {
	return "suppress:" + userID.String()
}

func (l *Ledger) userFor(userID uuid.UUID) *userState {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		u = &userState{sent: make(map[uuid.UUID]time.Time)}
		l.users[userID] = u
	}
	return u
}

// LockUser serializes alert processing for one user so a quota check followed
// by deliveries is effectively atomic. Unrelated users stay parallel.
// Returns the unlock function.
func (l *Ledger) LockUser(userID uuid.UUID) func() {
	u := l.userFor(userID)
	u.deliveryMu.Lock()
	return u.deliveryMu.Unlock
}

// load pulls the user's quota record and suppression map from the durable
// store on first touch. Called with u.mu held.
func (l *Ledger) load(ctx context.Context, userID uuid.UUID, u *userState) {
	if u.loaded {
		return
	}
	u.loaded = true

	if data, err := l.store.Get(ctx, quotaKey(userID)); err == nil {
		if err := json.Unmarshal(data, &u.quota); err != nil {
			l.log.Warn().Err(err).Str("user", userID.String()).Msg("ledger: corrupt quota record, starting fresh")
			u.quota = domain.QuotaRecord{}
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		l.log.Warn().Err(err).Str("user", userID.String()).Msg("ledger: quota read failed")
	}

	if data, err := l.store.Get(ctx, suppressKey(userID)); err == nil {
		var entries []domain.SuppressionEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			l.log.Warn().Err(err).Str("user", userID.String()).Msg("ledger: corrupt suppression blob, starting fresh")
			return
		}
		for _, e := range entries {
			u.sent[e.DealID] = e.SentAt
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		l.log.Warn().Err(err).Str("user", userID.String()).Msg("ledger: suppression read failed")
	}
}

// rollover zeroes the counter and stamps the new local day before any quota
// evaluation. Called with u.mu held.
func (l *Ledger) rollover(ctx context.Context, profile domain.UserProfile, u *userState, now time.Time) {
	day := now.In(l.location(profile.Timezone)).Format(localDayFormat)
	if u.quota.ResetDay == day {
		return
	}
	u.quota = domain.QuotaRecord{ResetDay: day}
	l.persist(ctx, quotaKey(profile.ID), u.quota)
}

// RemainingQuota returns how many alerts the user may still receive today in
// their local time zone.
func (l *Ledger) RemainingQuota(ctx context.Context, profile domain.UserProfile, now time.Time) int {
	u := l.userFor(profile.ID)
	u.mu.Lock()
	defer u.mu.Unlock()
	l.load(ctx, profile.ID, u)
	l.rollover(ctx, profile, u, now)
	remaining := profile.Plan().DailyAlertMax - u.quota.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordDelivery counts a confirmed delivery against today's quota and opens
// the suppression window for the deal. Both records persist immediately.
func (l *Ledger) RecordDelivery(ctx context.Context, profile domain.UserProfile, dealID uuid.UUID, now time.Time) {
	u := l.userFor(profile.ID)
	u.mu.Lock()
	defer u.mu.Unlock()
	l.load(ctx, profile.ID, u)
	l.rollover(ctx, profile, u, now)

	u.quota.Count++
	u.sent[dealID] = now
	l.evict(u, now)

	l.persist(ctx, quotaKey(profile.ID), u.quota)
	l.persist(ctx, suppressKey(profile.ID), suppressionEntries(u.sent))
}

// IsSuppressed reports whether the pair was delivered within the suppression
// window. An entry aged or evicted out of the store reads as never sent.
func (l *Ledger) IsSuppressed(ctx context.Context, userID, dealID uuid.UUID, now time.Time) bool {
	u := l.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	l.load(ctx, userID, u)
	sentAt, ok := u.sent[dealID]
	return ok && now.Sub(sentAt) < SuppressionWindow
}

// IsQuietHours reports whether now falls inside the user's quiet-hours
// window. The window is [start, end) in local hours and may wrap midnight.
func (l *Ledger) IsQuietHours(prefs domain.AlertPreferences, timezone string, now time.Time) bool {
	if !prefs.QuietHoursEnabled {
		return false
	}
	start, end := prefs.QuietHoursStart, prefs.QuietHoursEnd
	if start == end {
		return false
	}
	hour := now.In(l.location(timezone)).Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// location resolves the user's time zone, falling back to the host zone for
// unrecognized identifiers.
func (l *Ledger) location(timezone string) *time.Location {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		l.log.Warn().Str("timezone", timezone).Msg("ledger: unknown time zone, using host zone")
		return time.Local
	}
	return loc
}

// evict drops aged suppression entries and, under pressure, the oldest live
// ones. Called with u.mu held.
func (l *Ledger) evict(u *userState, now time.Time) {
	for dealID, sentAt := range u.sent {
		if now.Sub(sentAt) >= SuppressionWindow {
			delete(u.sent, dealID)
		}
	}
	if len(u.sent) <= maxSuppressionPerUser {
		return
	}
	entries := suppressionEntries(u.sent)
	sort.Slice(entries, func(i, j int) bool { return entries[i].SentAt.Before(entries[j].SentAt) })
	for _, e := range entries[:len(entries)-maxSuppressionPerUser] {
		delete(u.sent, e.DealID)
	}
}

func suppressionEntries(sent map[uuid.UUID]time.Time) []domain.SuppressionEntry {
	entries := make([]domain.SuppressionEntry, 0, len(sent))
	for dealID, sentAt := range sent {
		entries = append(entries, domain.SuppressionEntry{DealID: dealID, SentAt: sentAt})
	}
	return entries
}

// persist writes one record to the durable store with bounded retries. A
// write failure keeps the in-memory state and is surfaced via logs and
// metrics only; the delivery decision already made stands.
func (l *Ledger) persist(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("ledger: marshal failed")
		return
	}
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = l.store.Set(ctx, key, data); err == nil {
			return
		}
	}
	metrics.LedgerPersistErrors.Inc()
	l.log.Error().Err(err).Str("key", key).Msg("ledger: persist failed")
}
