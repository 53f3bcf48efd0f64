package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a key or row does not exist.
var ErrNotFound = errors.New("not found")

// DealRepo supplies materialized deals. No fetching or pagination happens in
// the core; every call returns a finite snapshot.
type DealRepo interface {
	ListDeals(ctx context.Context, origin string, limit int) ([]Deal, error)
	GetDeal(ctx context.Context, id uuid.UUID) (Deal, error)
	FreshDeals(ctx context.Context, since time.Time) ([]Deal, error)
}

// ProfileRepo supplies user profile snapshots and persists preference edits.
type ProfileRepo interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (UserProfile, error)
	ListAlertableUsers(ctx context.Context) ([]uuid.UUID, error)
	UpdateAlertPreferences(ctx context.Context, userID uuid.UUID, prefs AlertPreferences) error
	UpdatePreferredAirports(ctx context.Context, userID uuid.UUID, airports []PreferredAirport) error
}

// HistoryRepo persists sent alerts for the history API.
type HistoryRepo interface {
	SaveAlert(ctx context.Context, rec AlertRecord) error
	ListAlerts(ctx context.Context, userID uuid.UUID, page, perPage int) ([]AlertRecord, int, error)
}

// DeviceRepo manages registered push targets.
type DeviceRepo interface {
	RegisterDevice(ctx context.Context, dev Device) error
	ListDevices(ctx context.Context, userID uuid.UUID) ([]Device, error)
}

// Notifier performs the device hand-off for one deal. An error means the
// alert was not delivered and must not be recorded.
type Notifier interface {
	Notify(ctx context.Context, user UserProfile, deal Deal) error
}

// KVStore is the durable backend for ledger state. Get returns ErrNotFound
// for missing keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
}

// Cache debounces repeated triggers: fn runs only when the key is free and
// the key is then held for the ttl.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// RefreshQueue carries background refresh jobs between the scheduler and the
// delivery worker.
type RefreshQueue interface {
	Enqueue(ctx context.Context, job RefreshJob) error
	Pop(ctx context.Context) (RefreshJob, error)
}
