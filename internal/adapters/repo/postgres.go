package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
)

// Postgres implements the profile, deal, history and device repositories on
// a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ProfileRepo = (*Postgres)(nil)
	_ domain.DealRepo    = (*Postgres)(nil)
	_ domain.HistoryRepo = (*Postgres)(nil)
	_ domain.DeviceRepo  = (*Postgres)(nil)
)

// NewPostgres creates the adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const dealColumns = `id, origin, destination, origin_city, destination_city,
departure_date, return_date, total_price::text, normal_price::text, currency,
deal_score, discount_percent, airline, stops, return_stops, deep_link,
created_at, expires_at`

func scanDeal(row pgx.Row) (domain.Deal, error) {
	var (
		d                       domain.Deal
		totalPrice, normalPrice string
	)
	err := row.Scan(&d.ID, &d.Origin, &d.Destination, &d.OriginCity, &d.DestinationCity,
		&d.DepartureDate, &d.ReturnDate, &totalPrice, &normalPrice, &d.Currency,
		&d.DealScore, &d.DiscountPercent, &d.Airline, &d.Stops, &d.ReturnStops, &d.DeepLink,
		&d.CreatedAt, &d.ExpiresAt)
	if err != nil {
		return domain.Deal{}, err
	}
	if d.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return domain.Deal{}, fmt.Errorf("parse total price: %w", err)
	}
	if d.NormalPrice, err = decimal.NewFromString(normalPrice); err != nil {
		return domain.Deal{}, fmt.Errorf("parse normal price: %w", err)
	}
	return d, nil
}

// ListDeals returns current deals, optionally filtered by origin, newest
// first.
func (p *Postgres) ListDeals(ctx context.Context, origin string, limit int) ([]domain.Deal, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query := `SELECT ` + dealColumns + ` FROM deals WHERE expires_at > now()`
	args := []any{}
	if origin != "" {
		query += ` AND origin = $1`
		args = append(args, origin)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// GetDeal returns one deal by id.
func (p *Postgres) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Deal{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

// FreshDeals returns unexpired deals created since the given time.
func (p *Postgres) FreshDeals(ctx context.Context, since time.Time) ([]domain.Deal, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE created_at >= $1 AND expires_at > now() ORDER BY created_at DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("fresh deals: %w", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// GetProfile loads a full user snapshot: tier, alert preferences, preferred
// airports, and active watchlists.
func (p *Postgres) GetProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var profile domain.UserProfile
	err := p.pool.QueryRow(ctx, `
SELECT id, email, timezone, subscription_tier, telegram_chat_id, created_at,
       alerts_enabled, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, watchlist_only_mode
FROM users WHERE id = $1`, userID).Scan(
		&profile.ID, &profile.Email, &profile.Timezone, &profile.Tier, &profile.TelegramChatID, &profile.CreatedAt,
		&profile.Alerts.Enabled, &profile.Alerts.QuietHoursEnabled, &profile.Alerts.QuietHoursStart,
		&profile.Alerts.QuietHoursEnd, &profile.Alerts.WatchlistOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}

	airports, err := p.pool.Query(ctx,
		`SELECT iata, weight FROM preferred_airports WHERE user_id = $1 ORDER BY weight DESC`, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("preferred airports: %w", err)
	}
	defer airports.Close()
	for airports.Next() {
		var a domain.PreferredAirport
		if err := airports.Scan(&a.IATA, &a.Weight); err != nil {
			return domain.UserProfile{}, fmt.Errorf("scan airport: %w", err)
		}
		profile.PreferredAirports = append(profile.PreferredAirports, a)
	}
	if err := airports.Err(); err != nil {
		return domain.UserProfile{}, err
	}

	watchlists, err := p.pool.Query(ctx, `
SELECT id, name, origin, destination, date_range_start, date_range_end, max_price::text, is_active
FROM watchlists WHERE user_id = $1`, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("watchlists: %w", err)
	}
	defer watchlists.Close()
	for watchlists.Next() {
		var (
			c        domain.WatchlistCriterion
			maxPrice *string
		)
		if err := watchlists.Scan(&c.ID, &c.Name, &c.Origin, &c.Destination,
			&c.DateRangeStart, &c.DateRangeEnd, &maxPrice, &c.IsActive); err != nil {
			return domain.UserProfile{}, fmt.Errorf("scan watchlist: %w", err)
		}
		if maxPrice != nil {
			parsed, err := decimal.NewFromString(*maxPrice)
			if err != nil {
				return domain.UserProfile{}, fmt.Errorf("parse max price: %w", err)
			}
			c.MaxPrice = &parsed
		}
		profile.Watchlists = append(profile.Watchlists, c)
	}
	return profile, watchlists.Err()
}

// ListAlertableUsers returns the ids of users with alerts enabled.
func (p *Postgres) ListAlertableUsers(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `SELECT id FROM users WHERE alerts_enabled`)
	if err != nil {
		return nil, fmt.Errorf("list alertable users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateAlertPreferences stores new alert settings for the user.
func (p *Postgres) UpdateAlertPreferences(ctx context.Context, userID uuid.UUID, prefs domain.AlertPreferences) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
UPDATE users SET alerts_enabled = $2, quiet_hours_enabled = $3, quiet_hours_start = $4,
       quiet_hours_end = $5, watchlist_only_mode = $6, updated_at = now()
WHERE id = $1`,
		userID, prefs.Enabled, prefs.QuietHoursEnabled, prefs.QuietHoursStart, prefs.QuietHoursEnd, prefs.WatchlistOnly)
	if err != nil {
		return fmt.Errorf("update alert preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdatePreferredAirports replaces the user's airport weights.
func (p *Postgres) UpdatePreferredAirports(ctx context.Context, userID uuid.UUID, airports []domain.PreferredAirport) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM preferred_airports WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear airports: %w", err)
	}
	for _, a := range airports {
		if _, err := tx.Exec(ctx,
			`INSERT INTO preferred_airports (user_id, iata, weight) VALUES ($1, $2, $3)`,
			userID, a.IATA, a.Weight); err != nil {
			return fmt.Errorf("insert airport %s: %w", a.IATA, err)
		}
	}
	return tx.Commit(ctx)
}

// SaveAlert appends one record to the user's alert history.
func (p *Postgres) SaveAlert(ctx context.Context, rec domain.AlertRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO alert_history (id, user_id, deal_id, sent_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.Deal.ID, rec.SentAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// ListAlerts returns one page of the user's alert history, newest first,
// with the total count.
func (p *Postgres) ListAlerts(ctx context.Context, userID uuid.UUID, page, perPage int) ([]domain.AlertRecord, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var total int
	if err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM alert_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
SELECT h.id, h.user_id, h.sent_at, h.opened_at, h.clicked_through, h.expires_at, `+prefixedDealColumns("d")+`
FROM alert_history h
JOIN deals d ON d.id = h.deal_id
WHERE h.user_id = $1
ORDER BY h.sent_at DESC
LIMIT $2 OFFSET $3`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var recs []domain.AlertRecord
	for rows.Next() {
		var (
			rec                     domain.AlertRecord
			totalPrice, normalPrice string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SentAt, &rec.OpenedAt, &rec.ClickedThrough, &rec.ExpiresAt,
			&rec.Deal.ID, &rec.Deal.Origin, &rec.Deal.Destination, &rec.Deal.OriginCity, &rec.Deal.DestinationCity,
			&rec.Deal.DepartureDate, &rec.Deal.ReturnDate, &totalPrice, &normalPrice, &rec.Deal.Currency,
			&rec.Deal.DealScore, &rec.Deal.DiscountPercent, &rec.Deal.Airline, &rec.Deal.Stops, &rec.Deal.ReturnStops,
			&rec.Deal.DeepLink, &rec.Deal.CreatedAt, &rec.Deal.ExpiresAt); err != nil {
			return nil, 0, fmt.Errorf("scan alert: %w", err)
		}
		if rec.Deal.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
			return nil, 0, fmt.Errorf("parse total price: %w", err)
		}
		if rec.Deal.NormalPrice, err = decimal.NewFromString(normalPrice); err != nil {
			return nil, 0, fmt.Errorf("parse normal price: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func prefixedDealColumns(alias string) string {
	return alias + `.id, ` + alias + `.origin, ` + alias + `.destination, ` + alias + `.origin_city, ` + alias + `.destination_city,
` + alias + `.departure_date, ` + alias + `.return_date, ` + alias + `.total_price::text, ` + alias + `.normal_price::text, ` + alias + `.currency,
` + alias + `.deal_score, ` + alias + `.discount_percent, ` + alias + `.airline, ` + alias + `.stops, ` + alias + `.return_stops, ` + alias + `.deep_link,
` + alias + `.created_at, ` + alias + `.expires_at`
}

// RegisterDevice upserts one device token.
func (p *Postgres) RegisterDevice(ctx context.Context, dev domain.Device) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO devices (id, user_id, token, platform, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, platform = EXCLUDED.platform`,
		dev.ID, dev.UserID, dev.Token, dev.Platform)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// ListDevices returns the user's registered push targets.
func (p *Postgres) ListDevices(ctx context.Context, userID uuid.UUID) ([]domain.Device, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, token, platform, created_at FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Token, &d.Platform, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
