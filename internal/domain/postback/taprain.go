package postback

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pointrush/pointrush-api/internal/domain/ledger"
)

// TapRain normalizes GET postbacks from TapRain. The field layout mirrors
// AdBlue except the user id and offer id may ride on template_id, and
// confirmations bind to the newest placeholder.
type TapRain struct {
	net Network
}

func NewTapRain(net Network) *TapRain {
	return &TapRain{net: net}
}

func (t *TapRain) Normalize(r *http.Request) (*ledger.Event, error) {
	q := r.URL.Query()

	if t.net.Key == "" || q.Get("key") != t.net.Key {
		return nil, ErrUnauthorized
	}

	userID := firstValue(q, "s1", "user_id", "template_id")
	if userID == "" {
		return nil, ErrMissingIdentifier
	}

	offerID := firstValue(q, "offer_id", "template_id", "offer")
	if offerID == "" {
		offerID = t.net.fallbackOffer()
	}

	externalID := firstValue(q, "lead_id", "conversion_id")
	if externalID == "" {
		externalID = offerID + "-" + uuid.New().String()
	}
	externalID = "taprain-" + externalID

	kind := ledger.KindReward
	status := firstValue(q, "status")
	if status == "0" || containsAny(status, "reversal") {
		kind = ledger.KindReversal
	}

	points := parseAmount(firstValue(q, "payout"))
	if points.IsZero() {
		points = centsToPoints(firstValue(q, "payout_cents"))
	}
	if kind == ledger.KindReward && !points.IsPositive() {
		return nil, ErrInvalidAmount
	}

	return &ledger.Event{
		Network:     t.net.Name,
		UserID:      userID,
		OfferID:     offerID,
		ExternalID:  externalID,
		Points:      points,
		Kind:        kind,
		NewestFirst: t.net.MatchNewestFirst,
		Raw:         flattenQuery(q),
	}, nil
}
