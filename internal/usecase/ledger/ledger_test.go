package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Ping(context.Context) error { return nil }

func newTestLedger(t *testing.T, store *memStore) *Ledger {
	t.Helper()
	l, err := New(context.Background(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func freeProfile(tz string) domain.UserProfile {
	return domain.UserProfile{ID: uuid.New(), Timezone: tz, Tier: domain.TierFree}
}

func TestRemainingQuotaByTier(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	free := freeProfile("UTC")
	if got := l.RemainingQuota(context.Background(), free, now); got != 3 {
		t.Fatalf("free remaining = %d, want 3", got)
	}

	pro := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierPro}
	if got := l.RemainingQuota(context.Background(), pro, now); got != 6 {
		t.Fatalf("pro remaining = %d, want 6", got)
	}
}

func TestQuotaDecrementsAndFloorsAtZero(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := freeProfile("UTC")

	for i := 0; i < 3; i++ {
		l.RecordDelivery(context.Background(), profile, uuid.New(), now)
	}
	if got := l.RemainingQuota(context.Background(), profile, now); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	profile := freeProfile("America/Los_Angeles")

	// 06:30 UTC = 23:30 previous day in Los Angeles.
	evening := time.Date(2026, 9, 2, 6, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		l.RecordDelivery(context.Background(), profile, uuid.New(), evening)
	}
	if got := l.RemainingQuota(context.Background(), profile, evening); got != 0 {
		t.Fatalf("remaining before midnight = %d, want 0", got)
	}

	// One local hour later it is a new Los Angeles day.
	pastMidnight := evening.Add(time.Hour)
	if got := l.RemainingQuota(context.Background(), profile, pastMidnight); got != 3 {
		t.Fatalf("remaining after local midnight = %d, want 3", got)
	}
}

func TestQuotaSurvivesRestart(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := freeProfile("UTC")

	for i := 0; i < 3; i++ {
		l.RecordDelivery(context.Background(), profile, uuid.New(), now)
	}

	rebuilt := newTestLedger(t, store)
	if got := rebuilt.RemainingQuota(context.Background(), profile, now); got != 0 {
		t.Fatalf("remaining after restart = %d, want 0", got)
	}
}

func TestSuppressionWindow(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := freeProfile("UTC")
	dealID := uuid.New()

	l.RecordDelivery(context.Background(), profile, dealID, now)

	if !l.IsSuppressed(context.Background(), profile.ID, dealID, now.Add(11*time.Hour)) {
		t.Fatal("expected suppression inside the window")
	}
	if l.IsSuppressed(context.Background(), profile.ID, dealID, now.Add(SuppressionWindow+time.Second)) {
		t.Fatal("expected no suppression after the window")
	}
	if l.IsSuppressed(context.Background(), profile.ID, uuid.New(), now) {
		t.Fatal("unseen deal must not be suppressed")
	}
}

func TestSuppressionSurvivesRestart(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := freeProfile("UTC")
	dealID := uuid.New()

	l.RecordDelivery(context.Background(), profile, dealID, now)

	rebuilt := newTestLedger(t, store)
	if !rebuilt.IsSuppressed(context.Background(), profile.ID, dealID, now.Add(time.Hour)) {
		t.Fatal("expected suppression to survive restart")
	}
}

func TestSuppressionEvictionBound(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierPro}

	oldest := uuid.New()
	l.RecordDelivery(context.Background(), profile, oldest, now)
	for i := 0; i < maxSuppressionPerUser; i++ {
		l.RecordDelivery(context.Background(), profile, uuid.New(), now.Add(time.Duration(i+1)*time.Millisecond))
	}

	// The oldest entry was evicted under capacity pressure and now reads as
	// never sent.
	if l.IsSuppressed(context.Background(), profile.ID, oldest, now.Add(time.Minute)) {
		t.Fatal("expected the oldest entry to be evicted")
	}
}

func TestQuietHours(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	prefs := domain.AlertPreferences{QuietHoursEnabled: true, QuietHoursStart: 22, QuietHoursEnd: 7}

	at := func(hour int) time.Time {
		return time.Date(2026, 9, 1, hour, 30, 0, 0, time.UTC)
	}

	if !l.IsQuietHours(prefs, "UTC", at(23)) {
		t.Fatal("23:30 should be quiet")
	}
	if !l.IsQuietHours(prefs, "UTC", at(6)) {
		t.Fatal("06:30 should be quiet")
	}
	if l.IsQuietHours(prefs, "UTC", at(12)) {
		t.Fatal("12:30 should not be quiet")
	}
	if l.IsQuietHours(prefs, "UTC", at(7)) {
		t.Fatal("07:30 is past the end hour")
	}

	prefs.QuietHoursEnabled = false
	if l.IsQuietHours(prefs, "UTC", at(23)) {
		t.Fatal("disabled quiet hours must never suppress")
	}
}

func TestQuietHoursNonWrappingWindow(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	prefs := domain.AlertPreferences{QuietHoursEnabled: true, QuietHoursStart: 9, QuietHoursEnd: 17}

	if !l.IsQuietHours(prefs, "UTC", time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("midday should be quiet")
	}
	if l.IsQuietHours(prefs, "UTC", time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)) {
		t.Fatal("evening should not be quiet")
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	profile := freeProfile("Mars/Olympus_Mons")
	now := time.Now()

	// Must not panic and must still answer from the host zone.
	if got := l.RemainingQuota(context.Background(), profile, now); got != 3 {
		t.Fatalf("remaining = %d, want 3", got)
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	store := newMemStore()
	store.fail = true
	l := newTestLedger(t, store)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := freeProfile("UTC")
	dealID := uuid.New()

	l.RecordDelivery(context.Background(), profile, dealID, now)

	if got := l.RemainingQuota(context.Background(), profile, now); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
	if !l.IsSuppressed(context.Background(), profile.ID, dealID, now) {
		t.Fatal("in-memory suppression must hold despite write failure")
	}
}

func TestConcurrentRecordsStayConsistent(t *testing.T) {
	l := newTestLedger(t, newMemStore())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierPro}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordDelivery(context.Background(), profile, uuid.New(), now)
		}()
	}
	wg.Wait()

	if got := l.RemainingQuota(context.Background(), profile, now); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}
