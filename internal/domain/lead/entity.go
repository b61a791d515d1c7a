package lead

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lead state machine position.
//
// CHECKING -> PENDING -> AVAILABLE
//     \          \-----> FAILED
//      \----------------> FAILED
//
// AVAILABLE and FAILED are terminal.
type Status string

const (
	StatusChecking  Status = "CHECKING"
	StatusPending   Status = "PENDING"
	StatusAvailable Status = "AVAILABLE"
	StatusFailed    Status = "FAILED"
)

// OfferLead is one attempted-or-confirmed completion of an offer.
// ExternalID is globally unique and is the idempotency key for every
// network-reported event; Raw keeps the originating payload for dispute
// resolution and is never read by reconciliation logic.
type OfferLead struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ExternalID  string          `db:"external_id" json:"external_id"`
	OfferID     string          `db:"offer_id" json:"offer_id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Points      decimal.Decimal `db:"points" json:"points"`
	Status      Status          `db:"status" json:"status"`
	AvailableAt time.Time       `db:"available_at" json:"available_at"`
	AwardedAt   *time.Time      `db:"awarded_at" json:"awarded_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Raw         []byte          `db:"raw" json:"-"`
}
