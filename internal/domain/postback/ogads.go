package postback

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pointrush/pointrush-api/internal/domain/ledger"
)

// OGAds normalizes GET postbacks from OGAds. Conversions carry a
// transaction id most of the time; when absent the external id is derived
// from the offer and the session timestamp so retried deliveries of the
// same conversion still collapse to one lead.
type OGAds struct {
	net Network
}

func NewOGAds(net Network) *OGAds {
	return &OGAds{net: net}
}

func (o *OGAds) Normalize(r *http.Request) (*ledger.Event, error) {
	q := r.URL.Query()

	if o.net.Key == "" || q.Get("key") != o.net.Key {
		return nil, ErrUnauthorized
	}

	userID := firstValue(q, "aff_sub4", "aff_sub", "s1")
	if userID == "" {
		return nil, ErrMissingIdentifier
	}

	offerID := firstValue(q, "offer_id", "offerid", "id")
	if offerID == "" {
		offerID = o.net.fallbackOffer()
	}

	externalID := firstValue(q, "transaction_id")
	if externalID != "" {
		externalID = "ogads-" + externalID
	} else {
		ts := firstValue(q, "session_timestamp", "datetime", "date")
		if ts == "" {
			ts = uuid.New().String()
		}
		externalID = "ogads-" + offerID + "-" + ts
	}

	kind := ledger.KindReward
	status := strings.ToLower(firstValue(q, "status"))
	if containsAny(status, "chargeback", "reject", "reversed") ||
		q.Get("chargeback") == "1" || q.Get("is_chargeback") == "1" {
		kind = ledger.KindReversal
	}

	points := parseAmount(firstValue(q, "payout", "amount"))
	if kind == ledger.KindReward && !points.IsPositive() {
		return nil, ErrInvalidAmount
	}

	return &ledger.Event{
		Network:     o.net.Name,
		UserID:      userID,
		OfferID:     offerID,
		ExternalID:  externalID,
		Points:      points,
		Kind:        kind,
		NewestFirst: o.net.MatchNewestFirst,
		Raw:         flattenQuery(q),
	}, nil
}
