package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaRecord tracks notifications issued since the user's last local
// midnight. ResetDay is the local day stamp in YYYY-MM-DD form.
type QuotaRecord struct {
	Count    int    `json:"count"`
	ResetDay string `json:"reset_day"`
}

// SuppressionEntry records the last delivery time for one (user, deal) pair.
type SuppressionEntry struct {
	DealID uuid.UUID `json:"deal_id"`
	SentAt time.Time `json:"sent_at"`
}

// AlertRecord is one sent alert in the user's history.
type AlertRecord struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Deal           Deal
	SentAt         time.Time
	OpenedAt       *time.Time
	ClickedThrough *bool
	ExpiresAt      *time.Time
}

// Device is a registered push target for a user.
type Device struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	Platform  string
	CreatedAt time.Time
}
