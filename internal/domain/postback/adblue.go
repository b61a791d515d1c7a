package postback

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pointrush/pointrush-api/internal/domain/ledger"
)

// AdBlue normalizes GET postbacks from AdBlueMedia. Payouts arrive either
// as a decimal amount or as integer cents; a status of "0" signals a
// reversed conversion.
type AdBlue struct {
	net Network
}

func NewAdBlue(net Network) *AdBlue {
	return &AdBlue{net: net}
}

func (a *AdBlue) Normalize(r *http.Request) (*ledger.Event, error) {
	q := r.URL.Query()

	if a.net.Key == "" || q.Get("key") != a.net.Key {
		return nil, ErrUnauthorized
	}

	userID := firstValue(q, "s1", "sub1")
	if userID == "" {
		return nil, ErrMissingIdentifier
	}

	offerID := firstValue(q, "offer_id")
	if offerID == "" {
		offerID = a.net.fallbackOffer()
	}

	externalID := firstValue(q, "lead_id", "click_id", "conversion_id")
	if externalID == "" {
		externalID = offerID + "-" + uuid.New().String()
	}
	externalID = "adblue-" + externalID

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
		Network:     a.net.Name,
		UserID:      userID,
		OfferID:     offerID,
		ExternalID:  externalID,
		Points:      points,
		Kind:        kind,
		NewestFirst: a.net.MatchNewestFirst,
		Raw:         flattenQuery(q),
	}, nil
}
