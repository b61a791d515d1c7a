package postback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/pointrush/pointrush-api/internal/domain/ledger"
)

const maxBitLabsBody = 1 << 20

// signatureHeaders in precedence order; BitLabs has shipped the signature
// under several names over time.
var signatureHeaders = []string{
	"X-Signature",
	"BitLabs-Signature",
	"X-BitLabs-Signature",
	"X-Hmac-Signature",
}

// BitLabs normalizes signed POST callbacks from BitLabs. The raw body is
// authenticated with HMAC-SHA256 before anything is parsed; verification
// fails closed when the server key is not configured.
type BitLabs struct {
	net Network
}

func NewBitLabs(net Network) *BitLabs {
	return &BitLabs{net: net}
}

func (b *BitLabs) Normalize(r *http.Request) (*ledger.Event, error) {
	if b.net.HMACSecret == "" {
		return nil, ErrUnauthorized
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBitLabsBody))
	if err != nil {
		return nil, fmt.Errorf("read postback body: %w", err)
	}

	var signature string
	for _, h := range signatureHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			signature = v
			break
		}
	}
	if !verifyBodySignature(body, signature, b.net.HMACSecret) {
		return nil, ErrUnauthorized
	}

	fields := parseCallbackBody(body)

	userID := firstField(fields, "user_id", "uid", "s1", "sub_id", "sub1")
	if userID == "" {
		return nil, ErrMissingIdentifier
	}

	offerID := firstField(fields, "offer_id", "campaign_id", "funnel_id", "product_id")
	if offerID == "" {
		offerID = b.net.fallbackOffer()
	}

	externalID := firstField(fields, "transaction_id", "ticket_id", "conversion_id", "reward_id", "id")
	if externalID == "" {
		externalID = uuid.New().String()
	}
	externalID = "bitlabs-" + externalID

	kind := ledger.KindReward
	hint := firstField(fields, "callback_type", "event", "type", "status", "state")
	if containsAny(hint, "recon", "chargeback", "reverse", "deduct", "reject", "ban") {
		kind = ledger.KindReversal
	}

	points := parseAmount(firstField(fields, "reward", "amount", "points", "payout", "value"))
	if kind == ledger.KindReward && !points.IsPositive() {
		return nil, ErrInvalidAmount
	}

	return &ledger.Event{
		Network:     b.net.Name,
		UserID:      userID,
		OfferID:     offerID,
		ExternalID:  externalID,
		Points:      points,
		Kind:        kind,
		NewestFirst: b.net.MatchNewestFirst,
		Raw:         fields,
	}, nil
}

// verifyBodySignature checks the hex HMAC-SHA256 of body in constant
// time. An empty or malformed signature never verifies.
func verifyBodySignature(body []byte, signature, secret string) bool {
	received, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(received) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}

// parseCallbackBody accepts a JSON object or a urlencoded form and
// flattens either into string fields. Unknown shapes flatten to nothing,
// which downstream checks reject as a missing identifier.
func parseCallbackBody(body []byte) map[string]string {
	trimmed := strings.TrimSpace(string(body))

	if strings.HasPrefix(trimmed, "{") {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err == nil {
			out := make(map[string]string, len(obj))
			for k, v := range obj {
				switch t := v.(type) {
				case string:
					out[k] = t
				case json.Number:
					out[k] = t.String()
				case bool:
					out[k] = fmt.Sprintf("%t", t)
				case nil:
					// skip
				default:
					// nested values are audit-only
					raw, _ := json.Marshal(t)
					out[k] = string(raw)
				}
			}
			return out
		}
	}

	if form, err := url.ParseQuery(trimmed); err == nil {
		return flattenQuery(form)
	}
	return map[string]string{}
}

func firstField(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}
