package ledger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies a canonical network event.
type Kind string

const (
	KindReward   Kind = "REWARD"
	KindReversal Kind = "REVERSAL"
)

// Event is the canonical form every network postback is normalized into
// before it reaches the engine. No network-specific field names survive
// past this point.
type Event struct {
	Network     string
	UserID      string
	OfferID     string
	ExternalID  string
	Points      decimal.Decimal
	Kind        Kind
	NewestFirst bool
	Raw         map[string]string
}

func (e Event) rawJSON() []byte {
	if len(e.Raw) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(e.Raw)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Completion is one confirmed offer completion reported by the offer feed
// during a passive sync pass.
type Completion struct {
	ExternalID string
	OfferID    string
	Points     decimal.Decimal
}

// CompletionSource fetches the completions page for a user. Fetches happen
// before the reconciliation transaction opens; a fetch failure degrades the
// pass to "no new events" instead of failing it.
type CompletionSource interface {
	Completions(ctx context.Context, userID uuid.UUID) ([]Completion, error)
}
