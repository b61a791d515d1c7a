package postback_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pointrush/pointrush-api/internal/domain/ledger"
	"github.com/pointrush/pointrush-api/internal/domain/postback"
)

func TestOGAdsRewardFieldPrecedence(t *testing.T) {
	n := postback.NewOGAds(postback.Network{Name: "ogads", Key: "secret", MatchNewestFirst: true})

	r := httptest.NewRequest("GET", "/postbacks/ogads?key=secret&aff_sub4=user-1&aff_sub=ignored&offer_id=777&payout=1,25&transaction_id=tx-9", nil)
	ev, err := n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if ev.UserID != "user-1" {
		t.Fatalf("expected aff_sub4 to win, got %s", ev.UserID)
	}
	if ev.OfferID != "777" {
		t.Fatalf("expected offer 777, got %s", ev.OfferID)
	}
	if ev.ExternalID != "ogads-tx-9" {
		t.Fatalf("expected external id ogads-tx-9, got %s", ev.ExternalID)
	}
	if !ev.Points.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected decimal comma parsed to 1.25, got %s", ev.Points)
	}
	if ev.Kind != ledger.KindReward {
		t.Fatalf("expected reward, got %s", ev.Kind)
	}
	if !ev.NewestFirst {
		t.Fatalf("expected newest-first tie-break")
	}
}

func TestOGAdsChargebackClassification(t *testing.T) {
	n := postback.NewOGAds(postback.Network{Name: "ogads", Key: "secret"})

	for _, q := range []string{
		"status=chargeback",
		"status=Rejected",
		"status=reversed",
		"chargeback=1",
		"is_chargeback=1",
	} {
		r := httptest.NewRequest("GET", "/postbacks/ogads?key=secret&s1=user-1&transaction_id=tx-1&payout=2.00&"+q, nil)
		ev, err := n.Normalize(r)
		if err != nil {
			t.Fatalf("normalize %q failed: %v", q, err)
		}
		if ev.Kind != ledger.KindReversal {
			t.Fatalf("expected %q classified as reversal", q)
		}
	}
}

func TestOGAdsTimestampFallbackExternalID(t *testing.T) {
	n := postback.NewOGAds(postback.Network{Name: "ogads", Key: "secret"})

	r := httptest.NewRequest("GET", "/postbacks/ogads?key=secret&s1=user-1&offer_id=41&payout=2.00&session_timestamp=1700000000", nil)
	ev, err := n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ev.ExternalID != "ogads-41-1700000000" {
		t.Fatalf("expected deterministic fallback id, got %s", ev.ExternalID)
	}
}

func TestOGAdsRejectsBadCredentials(t *testing.T) {
	n := postback.NewOGAds(postback.Network{Name: "ogads", Key: "secret"})

	r := httptest.NewRequest("GET", "/postbacks/ogads?key=wrong&s1=user-1&payout=2.00", nil)
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// unconfigured network fails closed even with a matching empty key
	unconfigured := postback.NewOGAds(postback.Network{Name: "ogads"})
	r = httptest.NewRequest("GET", "/postbacks/ogads?s1=user-1&payout=2.00", nil)
	if _, err := unconfigured.Normalize(r); !errors.Is(err, postback.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unconfigured key, got %v", err)
	}
}

func TestOGAdsRejectsMissingUserAndAmount(t *testing.T) {
	n := postback.NewOGAds(postback.Network{Name: "ogads", Key: "secret"})

	r := httptest.NewRequest("GET", "/postbacks/ogads?key=secret&payout=2.00", nil)
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}

	r = httptest.NewRequest("GET", "/postbacks/ogads?key=secret&s1=user-1&payout=0", nil)
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAdBluePayoutCentsAndReversal(t *testing.T) {
	n := postback.NewAdBlue(postback.Network{Name: "adblue", Key: "secret"})

	r := httptest.NewRequest("GET", "/postbacks/adblue?key=secret&s1=user-2&offer_id=12&lead_id=L-5&payout_cents=250", nil)
	ev, err := n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !ev.Points.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected cents divided to 2.50, got %s", ev.Points)
	}
	if ev.ExternalID != "adblue-L-5" {
		t.Fatalf("expected external id adblue-L-5, got %s", ev.ExternalID)
	}
	if ev.NewestFirst {
		t.Fatalf("adblue binds oldest placeholder first")
	}

	r = httptest.NewRequest("GET", "/postbacks/adblue?key=secret&s1=user-2&lead_id=L-6&payout=2.50&status=0", nil)
	ev, err = n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ev.Kind != ledger.KindReversal {
		t.Fatalf("expected status=0 classified as reversal")
	}
}

func TestTapRainTemplateFallbacks(t *testing.T) {
	n := postback.NewTapRain(postback.Network{Name: "taprain", Key: "secret", MatchNewestFirst: true})

	r := httptest.NewRequest("GET", "/postbacks/taprain?key=secret&template_id=tmpl-9&payout=3.00&lead_id=77", nil)
	ev, err := n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ev.UserID != "tmpl-9" {
		t.Fatalf("expected template_id as user fallback, got %s", ev.UserID)
	}
	if ev.OfferID != "tmpl-9" {
		t.Fatalf("expected template_id as offer fallback, got %s", ev.OfferID)
	}
	if ev.ExternalID != "taprain-77" {
		t.Fatalf("expected external id taprain-77, got %s", ev.ExternalID)
	}
}

func TestBitLabsSignatureFailsClosed(t *testing.T) {
	body := `{"user_id":"user-3","transaction_id":"tr-1","reward":"4.00"}`

	// no configured key at all
	n := postback.NewBitLabs(postback.Network{Name: "bitlabs"})
	r := httptest.NewRequest("POST", "/postbacks/bitlabs", strings.NewReader(body))
	r.Header.Set("X-Signature", signBody(body, "server-key"))
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrUnauthorized) {
		t.Fatalf("expected fail closed without server key, got %v", err)
	}

	n = postback.NewBitLabs(postback.Network{Name: "bitlabs", HMACSecret: "server-key"})

	// missing signature
	r = httptest.NewRequest("POST", "/postbacks/bitlabs", strings.NewReader(body))
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without signature, got %v", err)
	}

	// wrong signature
	r = httptest.NewRequest("POST", "/postbacks/bitlabs", strings.NewReader(body))
	r.Header.Set("X-Signature", signBody(body, "other-key"))
	if _, err := n.Normalize(r); !errors.Is(err, postback.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong signature, got %v", err)
	}
}

func TestBitLabsJSONAndFormBodies(t *testing.T) {
	n := postback.NewBitLabs(postback.Network{Name: "bitlabs", HMACSecret: "server-key", MatchNewestFirst: true})

	body := `{"uid":"user-3","ticket_id":"tk-2","amount":4.5,"callback_type":"RECONCILIATION"}`
	r := httptest.NewRequest("POST", "/postbacks/bitlabs", strings.NewReader(body))
	r.Header.Set("BitLabs-Signature", signBody(body, "server-key"))
	ev, err := n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize JSON body failed: %v", err)
	}
	if ev.UserID != "user-3" || ev.ExternalID != "bitlabs-tk-2" {
		t.Fatalf("unexpected identifiers: %s / %s", ev.UserID, ev.ExternalID)
	}
	if ev.Kind != ledger.KindReversal {
		t.Fatalf("expected reconciliation classified as reversal")
	}
	if !ev.Points.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected numeric amount 4.5, got %s", ev.Points)
	}

	form := "user_id=user-4&transaction_id=tr-3&reward=2.00"
	r = httptest.NewRequest("POST", "/postbacks/bitlabs", strings.NewReader(form))
	r.Header.Set("X-Hmac-Signature", signBody(form, "server-key"))
	ev, err = n.Normalize(r)
	if err != nil {
		t.Fatalf("normalize form body failed: %v", err)
	}
	if ev.UserID != "user-4" || ev.ExternalID != "bitlabs-tr-3" || ev.Kind != ledger.KindReward {
		t.Fatalf("unexpected form parse: %+v", ev)
	}
}

func signBody(body, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
