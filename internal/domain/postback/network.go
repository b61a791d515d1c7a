package postback

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Network holds the per-network receiver configuration. Key authenticates
// GET postbacks, HMACSecret authenticates signed POST bodies; a network
// uses one or the other. MatchNewestFirst picks which CHECKING placeholder
// a confirmation binds to when the user started the same offer twice.
type Network struct {
	Name             string
	Key              string
	HMACSecret       string
	FallbackOfferID  string
	MatchNewestFirst bool
}

func (n Network) fallbackOffer() string {
	if n.FallbackOfferID != "" {
		return n.FallbackOfferID
	}
	return n.Name
}

// firstValue returns the first non-empty trimmed value among keys.
func firstValue(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// parseAmount parses a network payout tolerant of a decimal comma and
// rounds to cents. Empty or unparseable input comes back as zero.
func parseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(2)
}

// centsToPoints divides an integer-cents payout field down to points.
func centsToPoints(raw string) decimal.Decimal {
	d := parseAmount(raw)
	if d.IsZero() {
		return decimal.Zero
	}
	return d.Div(decimal.NewFromInt(100)).Round(2)
}

func containsAny(s string, words ...string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// flattenQuery keeps the first value of every parameter for the audit
// trail stored on the lead.
func flattenQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
