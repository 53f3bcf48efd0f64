package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/usecase/curation"
	"fare-alerts/internal/usecase/ranking"
)

type coreDisplay struct{}

func (coreDisplay) DisplayDeals(candidates []domain.Deal, profile domain.UserProfile) []domain.RankedDeal {
	return curation.Curate(ranking.Rank(candidates, profile), profile.Tier)
}

type fakeDeals struct {
	deals []domain.Deal
}

func (f *fakeDeals) ListDeals(_ context.Context, origin string, limit int) ([]domain.Deal, error) {
	out := []domain.Deal{}
	for _, d := range f.deals {
		if origin != "" && d.Origin != origin {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDeals) GetDeal(_ context.Context, id uuid.UUID) (domain.Deal, error) {
	for _, d := range f.deals {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Deal{}, domain.ErrNotFound
}

func (f *fakeDeals) FreshDeals(context.Context, time.Time) ([]domain.Deal, error) {
	return f.deals, nil
}

type fakeProfiles struct {
	profiles map[uuid.UUID]domain.UserProfile
	prefs    map[uuid.UUID]domain.AlertPreferences
	airports map[uuid.UUID][]domain.PreferredAirport
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) ListAlertableUsers(context.Context) ([]uuid.UUID, error) { return nil, nil }

func (f *fakeProfiles) UpdateAlertPreferences(_ context.Context, userID uuid.UUID, prefs domain.AlertPreferences) error {
	if _, ok := f.profiles[userID]; !ok {
		return domain.ErrNotFound
	}
	f.prefs[userID] = prefs
	return nil
}

func (f *fakeProfiles) UpdatePreferredAirports(_ context.Context, userID uuid.UUID, airports []domain.PreferredAirport) error {
	f.airports[userID] = airports
	return nil
}

type nopHistory struct{}

func (nopHistory) SaveAlert(context.Context, domain.AlertRecord) error { return nil }
func (nopHistory) ListAlerts(context.Context, uuid.UUID, int, int) ([]domain.AlertRecord, int, error) {
	return nil, 0, nil
}

type nopDevices struct{}

func (nopDevices) RegisterDevice(context.Context, domain.Device) error { return nil }
func (nopDevices) ListDevices(context.Context, uuid.UUID) ([]domain.Device, error) {
	return nil, nil
}

type memQueue struct {
	jobs []domain.RefreshJob
}

func (q *memQueue) Enqueue(_ context.Context, job domain.RefreshJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Pop(context.Context) (domain.RefreshJob, error) {
	return domain.RefreshJob{}, domain.ErrNotFound
}

type memCache struct {
	keys map[string]bool
}

func (c *memCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if c.keys[key] {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	c.keys[key] = true
	return nil
}

func testDeal(origin string, score int) domain.Deal {
	return domain.Deal{
		ID:            uuid.New(),
		Origin:        origin,
		Destination:   "NRT",
		DealScore:     score,
		TotalPrice:    decimal.RequireFromString("420.00"),
		NormalPrice:   decimal.RequireFromString("800.00"),
		Currency:      "USD",
		DepartureDate: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		ReturnDate:    time.Date(2026, 10, 8, 8, 0, 0, 0, time.UTC),
		ExpiresAt:     time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(deals *fakeDeals, profiles *fakeProfiles, queue *memQueue) chi.Router {
	h := NewHandler(coreDisplay{}, deals, profiles, nopHistory{}, nopDevices{}, queue,
		&memCache{keys: map[string]bool{}}, time.Minute, zerolog.Nop())
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func newFakeProfiles(profile domain.UserProfile) *fakeProfiles {
	return &fakeProfiles{
		profiles: map[uuid.UUID]domain.UserProfile{profile.ID: profile},
		prefs:    map[uuid.UUID]domain.AlertPreferences{},
		airports: map[uuid.UUID][]domain.PreferredAirport{},
	}
}

func TestListDealsCuratesForUser(t *testing.T) {
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierFree}
	deals := &fakeDeals{}
	for i := 0; i < 30; i++ {
		deals.deals = append(deals.deals, testDeal("SFO", 85))
	}
	router := newTestRouter(deals, newFakeProfiles(profile), &memQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/deals?limit=100", nil)
	req.Header.Set(userIDHeader, profile.ID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Deals []dealJSON `json:"deals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Deals) != 20 {
		t.Fatalf("deals = %d, want 20 (free-tier display cap)", len(body.Deals))
	}
	if body.Deals[0].QueueScore == nil {
		t.Fatal("expected queue scores on the curated list")
	}
}

func TestListDealsAnonymous(t *testing.T) {
	deals := &fakeDeals{deals: []domain.Deal{testDeal("SFO", 85), testDeal("JFK", 82)}}
	router := newTestRouter(deals, newFakeProfiles(domain.UserProfile{ID: uuid.New()}), &memQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/deals?origin=SFO", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Deals []dealJSON `json:"deals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Deals) != 1 || body.Deals[0].Origin != "SFO" {
		t.Fatalf("deals = %+v, want the one SFO deal", body.Deals)
	}
}

func TestBackgroundRefreshDebounces(t *testing.T) {
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierFree}
	queue := &memQueue{}
	router := newTestRouter(&fakeDeals{}, newFakeProfiles(profile), queue)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/deals/background-refresh", nil)
		req.Header.Set(userIDHeader, profile.ID.String())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 (debounced)", len(queue.jobs))
	}
	if queue.jobs[0].UserID != profile.ID || queue.jobs[0].Trigger != domain.TriggerBackground {
		t.Fatalf("job = %+v", queue.jobs[0])
	}
}

func TestUpdateAirportWeightsValidation(t *testing.T) {
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierFree}
	profiles := newFakeProfiles(profile)
	router := newTestRouter(&fakeDeals{}, profiles, &memQueue{})

	send := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/v1/alert-preferences/airports", strings.NewReader(body))
		req.Header.Set(userIDHeader, profile.ID.String())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(`{"preferred_airports":[{"iata":"SFO","weight":0.6},{"iata":"OAK","weight":0.4}]}`); code != http.StatusOK {
		t.Fatalf("valid weights: status = %d", code)
	}
	if code := send(`{"preferred_airports":[{"iata":"SFO","weight":0.9}]}`); code != http.StatusBadRequest {
		t.Fatalf("bad sum: status = %d, want 400", code)
	}
	if code := send(`{"preferred_airports":[{"iata":"SFO","weight":1.4}]}`); code != http.StatusBadRequest {
		t.Fatalf("out-of-range weight: status = %d, want 400", code)
	}

	if len(profiles.airports[profile.ID]) != 2 {
		t.Fatalf("stored airports = %d, want 2", len(profiles.airports[profile.ID]))
	}
}

func TestWatchlistOnlyRequiresPro(t *testing.T) {
	profile := domain.UserProfile{ID: uuid.New(), Timezone: "UTC", Tier: domain.TierFree}
	router := newTestRouter(&fakeDeals{}, newFakeProfiles(profile), &memQueue{})

	body := `{"enabled":true,"watchlist_only_mode":true}`
	req := httptest.NewRequest(http.MethodPut, "/v1/alert-preferences", strings.NewReader(body))
	req.Header.Set(userIDHeader, profile.ID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
