package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a rewards account row. Accounts are created by the identity
// service; this API only mutates the point counters and bonus flags.
type Account struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Email              string          `db:"email" json:"email"`
	Username           string          `db:"username" json:"username"`
	Balance            decimal.Decimal `db:"balance" json:"balance"`
	Pending            decimal.Decimal `db:"pending" json:"pending"`
	IsAdmin            bool            `db:"is_admin" json:"is_admin"`
	SignupBonusAwarded bool            `db:"signup_bonus_awarded" json:"signup_bonus_awarded"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}
