package offerfeed

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCompletionsArray(t *testing.T) {
	body := `[{"lead_id": 41, "offer_id": "777", "points": 250}, {"id": "42", "offer_id": 778, "points": "100"}]`

	out, err := ParseCompletions([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(out))
	}
	if out[0].ExternalID != "feed-41" || !out[0].Points.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("unexpected first item: %+v", out[0])
	}
	if out[1].ExternalID != "feed-42" || out[1].OfferID != "778" || !out[1].Points.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected second item: %+v", out[1])
	}
}

func TestParseCompletionsJSONP(t *testing.T) {
	body := `callback([{"lead_id":"9","offer_id":"1","points":50}]);`

	out, err := ParseCompletions([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out) != 1 || out[0].ExternalID != "feed-9" {
		t.Fatalf("unexpected JSONP parse: %+v", out)
	}
	if !out[0].Points.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("expected 0.50 points, got %s", out[0].Points)
	}
}

func TestParseCompletionsDoubleEncoded(t *testing.T) {
	body := `"[{\"lead_id\":\"7\",\"offer_id\":\"2\",\"points\":125}]"`

	out, err := ParseCompletions([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out) != 1 || out[0].ExternalID != "feed-7" {
		t.Fatalf("unexpected double-encoded parse: %+v", out)
	}
}

func TestParseCompletionsSkipsJunk(t *testing.T) {
	body := `[{"offer_id":"1","points":100},{"lead_id":"x1","points":0},{"lead_id":"x2","points":"zzz"},{"lead_id":"ok","offer_id":"3","points":300}]`

	out, err := ParseCompletions([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out) != 1 || out[0].ExternalID != "feed-ok" {
		t.Fatalf("expected only the valid item, got %+v", out)
	}
}

func TestParseCompletionsEmpty(t *testing.T) {
	for _, body := range []string{"", "null", "[]", `""`} {
		out, err := ParseCompletions([]byte(body))
		if err != nil {
			t.Fatalf("parse %q failed: %v", body, err)
		}
		if len(out) != 0 {
			t.Fatalf("expected no completions for %q", body)
		}
	}
}
