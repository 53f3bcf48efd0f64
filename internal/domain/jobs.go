package domain

import (
	"time"

	"github.com/google/uuid"
)

// Refresh triggers.
const (
	TriggerForeground = "foreground"
	TriggerBackground = "background"
)

// RefreshJob asks the delivery worker to evaluate fresh deals for one user.
type RefreshJob struct {
	UserID      uuid.UUID `json:"user_id"`
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}
