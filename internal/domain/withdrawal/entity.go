package withdrawal

import "github.com/shopspring/decimal"

// Option is one fixed withdrawal product. The catalog is static per
// deployment; costs are points, not currency.
type Option struct {
	ID      string          `json:"id"`
	Label   string          `json:"label"`
	Details string          `json:"details"`
	Cost    decimal.Decimal `json:"cost"`
}

func DefaultOptions() []Option {
	return []Option{
		{ID: "giftcard-50", Label: "Gift Card", Details: "$5 gift card", Cost: decimal.NewFromInt(50)},
		{ID: "giftcard-100", Label: "Gift Card", Details: "$10 gift card", Cost: decimal.NewFromInt(100)},
		{ID: "paypal-120", Label: "PayPal", Details: "$10 PayPal transfer", Cost: decimal.NewFromInt(120)},
	}
}

// Receipt reports a completed withdrawal request.
type Receipt struct {
	Option  Option          `json:"option"`
	Balance decimal.Decimal `json:"balance"`
}
