package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
)

// userIDHeader carries the authenticated user id. Session handling lives in
// the gateway in front of this service.
const userIDHeader = "X-User-ID"

// DisplayLister is the display entry point of the decision core.
type DisplayLister interface {
	DisplayDeals(candidates []domain.Deal, profile domain.UserProfile) []domain.RankedDeal
}

// Handler serves the public API.
type Handler struct {
	display     DisplayLister
	deals       domain.DealRepo
	profiles    domain.ProfileRepo
	history     domain.HistoryRepo
	devices     domain.DeviceRepo
	refreshJobs domain.RefreshQueue
	debounce    domain.Cache
	debounceTTL time.Duration
	log         zerolog.Logger
}

// NewHandler wires the API handler.
func NewHandler(display DisplayLister, deals domain.DealRepo, profiles domain.ProfileRepo,
	history domain.HistoryRepo, devices domain.DeviceRepo, refreshJobs domain.RefreshQueue,
	debounce domain.Cache, debounceTTL time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		display:     display,
		deals:       deals,
		profiles:    profiles,
		history:     history,
		devices:     devices,
		refreshJobs: refreshJobs,
		debounce:    debounce,
		debounceTTL: debounceTTL,
		log:         logger,
	}
}

// Register mounts all routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/deals", h.listDeals)
		r.Get("/deals/background-refresh", h.backgroundRefresh)
		r.Get("/deals/{id}", h.getDeal)
		r.Put("/alert-preferences", h.updateAlertPreferences)
		r.Put("/alert-preferences/airports", h.updatePreferredAirports)
		r.Get("/alerts/history", h.alertHistory)
		r.Post("/alerts/register", h.registerDevice)
	})
}

type dealJSON struct {
	ID              uuid.UUID `json:"id"`
	Origin          string    `json:"origin"`
	Destination     string    `json:"destination"`
	OriginCity      string    `json:"origin_city,omitempty"`
	DestinationCity string    `json:"destination_city,omitempty"`
	DepartureDate   time.Time `json:"departure_date"`
	ReturnDate      time.Time `json:"return_date"`
	TotalPrice      string    `json:"total_price"`
	NormalPrice     string    `json:"normal_price"`
	Currency        string    `json:"currency"`
	DealScore       int       `json:"deal_score"`
	DiscountPercent int       `json:"discount_percent"`
	Airline         string    `json:"airline"`
	Stops           int       `json:"stops"`
	ReturnStops     int       `json:"return_stops"`
	DeepLink        string    `json:"deep_link,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	QueueScore      *float64  `json:"queue_score,omitempty"`
}

func toDealJSON(d domain.Deal) dealJSON {
	return dealJSON{
		ID:              d.ID,
		Origin:          d.Origin,
		Destination:     d.Destination,
		OriginCity:      d.OriginCity,
		DestinationCity: d.DestinationCity,
		DepartureDate:   d.DepartureDate,
		ReturnDate:      d.ReturnDate,
		TotalPrice:      d.TotalPrice.StringFixed(2),
		NormalPrice:     d.NormalPrice.StringFixed(2),
		Currency:        d.Currency,
		DealScore:       d.DealScore,
		DiscountPercent: d.DiscountPercent,
		Airline:         d.Airline,
		Stops:           d.Stops,
		ReturnStops:     d.ReturnStops,
		DeepLink:        d.DeepLink,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}

// listDeals serves the display path. With an authenticated user the list is
// ranked and curated for their tier; anonymous callers get the raw snapshot.
func (h *Handler) listDeals(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	deals, err := h.deals.ListDeals(r.Context(), origin, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("api: list deals failed")
		writeError(w, http.StatusInternalServerError, "failed to list deals")
		return
	}

	userID, ok := userID(r)
	if !ok {
		out := make([]dealJSON, 0, len(deals))
		for _, d := range deals {
			out = append(out, toDealJSON(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"deals": out})
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		h.profileError(w, err)
		return
	}

	ranked := h.display.DisplayDeals(deals, profile)
	out := make([]dealJSON, 0, len(ranked))
	for _, rd := range ranked {
		dj := toDealJSON(rd.Deal)
		score := rd.Score
		dj.QueueScore = &score
		out = append(out, dj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": out})
}

func (h *Handler) getDeal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}
	deal, err := h.deals.GetDeal(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "deal not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("deal", id.String()).Msg("api: get deal failed")
		writeError(w, http.StatusInternalServerError, "failed to load deal")
		return
	}
	writeJSON(w, http.StatusOK, toDealJSON(deal))
}

// backgroundRefresh enqueues a refresh job for the user, debounced so rapid
// foreground/background triggers collapse into one pass.
func (h *Handler) backgroundRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	job := domain.RefreshJob{
		UserID:      userID,
		Trigger:     domain.TriggerBackground,
		RequestedAt: time.Now().UTC(),
	}
	err := h.debounce.Once(r.Context(), "refresh:"+userID.String(), h.debounceTTL, func() error {
		return h.refreshJobs.Enqueue(r.Context(), job)
	})
	if err != nil {
		h.log.Error().Err(err).Str("user", userID.String()).Msg("api: refresh enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to schedule refresh")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"refreshed_at": job.RequestedAt,
	})
}

type alertPreferencesJSON struct {
	Enabled           bool `json:"enabled"`
	QuietHoursEnabled bool `json:"quiet_hours_enabled"`
	QuietHoursStart   int  `json:"quiet_hours_start"`
	QuietHoursEnd     int  `json:"quiet_hours_end"`
	WatchlistOnlyMode bool `json:"watchlist_only_mode"`
}

func (h *Handler) updateAlertPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var payload alertPreferencesJSON
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if payload.QuietHoursStart < 0 || payload.QuietHoursStart > 23 ||
		payload.QuietHoursEnd < 0 || payload.QuietHoursEnd > 23 {
		writeError(w, http.StatusBadRequest, "quiet hours must be 0-23")
		return
	}

	prefs := domain.AlertPreferences{
		Enabled:           payload.Enabled,
		QuietHoursEnabled: payload.QuietHoursEnabled,
		QuietHoursStart:   payload.QuietHoursStart,
		QuietHoursEnd:     payload.QuietHoursEnd,
		WatchlistOnly:     payload.WatchlistOnlyMode,
	}
	if prefs.WatchlistOnly {
		profile, err := h.profiles.GetProfile(r.Context(), userID)
		if err != nil {
			h.profileError(w, err)
			return
		}
		if !profile.Plan().WatchlistOnlyOK {
			writeError(w, http.StatusForbidden, "watchlist-only mode requires the pro tier")
			return
		}
	}
	if err := h.profiles.UpdateAlertPreferences(r.Context(), userID, prefs); err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type preferredAirportsJSON struct {
	PreferredAirports []struct {
		IATA   string  `json:"iata"`
		Weight float64 `json:"weight"`
	} `json:"preferred_airports"`
}

func (h *Handler) updatePreferredAirports(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var payload preferredAirportsJSON
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	// The decision core treats weights as a validated input, so the sum
	// check happens here at the boundary.
	sum := 0.0
	airports := make([]domain.PreferredAirport, 0, len(payload.PreferredAirports))
	for _, a := range payload.PreferredAirports {
		if a.Weight < 0 || a.Weight > 1 {
			writeError(w, http.StatusBadRequest, "weights must be in [0,1]")
			return
		}
		sum += a.Weight
		airports = append(airports, domain.PreferredAirport{IATA: a.IATA, Weight: a.Weight})
	}
	if len(airports) > 0 && math.Abs(sum-1.0) > 0.001 {
		writeError(w, http.StatusBadRequest, "weights must sum to 1.0")
		return
	}

	if err := h.profiles.UpdatePreferredAirports(r.Context(), userID, airports); err != nil {
		h.profileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)

	recs, total, err := h.history.ListAlerts(r.Context(), userID, page, perPage)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID.String()).Msg("api: alert history failed")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	type alertJSON struct {
		ID             uuid.UUID  `json:"id"`
		Deal           dealJSON   `json:"deal"`
		SentAt         time.Time  `json:"sent_at"`
		OpenedAt       *time.Time `json:"opened_at,omitempty"`
		ClickedThrough *bool      `json:"clicked_through,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	}
	alerts := make([]alertJSON, 0, len(recs))
	for _, rec := range recs {
		alerts = append(alerts, alertJSON{
			ID:             rec.ID,
			Deal:           toDealJSON(rec.Deal),
			SentAt:         rec.SentAt,
			OpenedAt:       rec.OpenedAt,
			ClickedThrough: rec.ClickedThrough,
			ExpiresAt:      rec.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":   alerts,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var payload struct {
		DeviceID uuid.UUID `json:"device_id"`
		Token    string    `json:"token"`
		Platform string    `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	dev := domain.Device{
		ID:       payload.DeviceID,
		UserID:   userID,
		Token:    payload.Token,
		Platform: payload.Platform,
	}
	if dev.ID == uuid.Nil {
		dev.ID = uuid.New()
	}
	if err := h.devices.RegisterDevice(r.Context(), dev); err != nil {
		h.log.Error().Err(err).Str("user", userID.String()).Msg("api: device registration failed")
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":  "registered",
		"message": "Device token saved",
	})
}

func (h *Handler) profileError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.log.Error().Err(err).Msg("api: profile operation failed")
	writeError(w, http.StatusInternalServerError, "profile operation failed")
}

func userID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(userIDHeader))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
