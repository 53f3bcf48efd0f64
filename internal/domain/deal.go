package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal is an immutable priced flight offer produced upstream.
// The core never mutates deals.
type Deal struct {
	ID              uuid.UUID
	Origin          string
	Destination     string
	OriginCity      string
	DestinationCity string
	DepartureDate   time.Time
	ReturnDate      time.Time
	TotalPrice      decimal.Decimal
	NormalPrice     decimal.Decimal
	Currency        string
	DealScore       int
	DiscountPercent int
	Airline         string
	Stops           int
	ReturnStops     int
	DeepLink        string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// RankedDeal pairs a deal with the score computed for one ranking pass.
// Never persisted.
type RankedDeal struct {
	Deal  Deal
	Score float64
}
