package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WildcardDestination matches every destination in a watchlist criterion.
const WildcardDestination = "any"

// WatchlistCriterion is a user-defined match rule. Unset optional fields
// always match.
type WatchlistCriterion struct {
	ID             uuid.UUID
	Name           string
	Origin         string
	Destination    string
	DateRangeStart *time.Time
	DateRangeEnd   *time.Time
	MaxPrice       *decimal.Decimal
	IsActive       bool
}

// Matches reports whether the deal satisfies this criterion.
func (c WatchlistCriterion) Matches(deal Deal) bool {
	if !c.IsActive {
		return false
	}
	if deal.Origin != c.Origin {
		return false
	}
	if c.Destination != WildcardDestination && deal.Destination != c.Destination {
		return false
	}
	if c.DateRangeStart != nil && deal.DepartureDate.Before(*c.DateRangeStart) {
		return false
	}
	if c.DateRangeEnd != nil && deal.DepartureDate.After(*c.DateRangeEnd) {
		return false
	}
	if c.MaxPrice != nil && deal.TotalPrice.GreaterThan(*c.MaxPrice) {
		return false
	}
	return true
}

// PreferredAirport carries a per-origin ranking weight in [0,1].
// Weight-sum validation happens upstream.
type PreferredAirport struct {
	IATA   string
	Weight float64
}

// AlertPreferences controls whether and when a user is notified.
// WatchlistOnly is honoured only on the pro tier.
type AlertPreferences struct {
	Enabled           bool
	QuietHoursEnabled bool
	QuietHoursStart   int
	QuietHoursEnd     int
	WatchlistOnly     bool
}

// UserProfile is a read-only snapshot of a user supplied per invocation.
type UserProfile struct {
	ID                uuid.UUID
	Email             string
	Timezone          string
	Tier              Tier
	PreferredAirports []PreferredAirport
	Watchlists        []WatchlistCriterion
	Alerts            AlertPreferences
	TelegramChatID    int64
	CreatedAt         time.Time
}

// MatchesWatchlist reports whether any active criterion matches the deal.
func (p UserProfile) MatchesWatchlist(deal Deal) bool {
	for _, c := range p.Watchlists {
		if c.Matches(deal) {
			return true
		}
	}
	return false
}

// OriginWeight returns the preferred weight for the deal's origin, 0 when
// the origin is not configured.
func (p UserProfile) OriginWeight(origin string) float64 {
	for _, a := range p.PreferredAirports {
		if a.IATA == origin {
			return a.Weight
		}
	}
	return 0
}
