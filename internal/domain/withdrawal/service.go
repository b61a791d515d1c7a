package withdrawal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pointrush/pointrush-api/internal/domain/account"
)

// Notifier delivers the withdrawal summary to the operator channel. A
// returned error means the request must not be reported as accepted.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Service struct {
	accounts *account.Repository
	notifier Notifier
	options  []Option
	byID     map[string]Option
}

func NewService(accounts *account.Repository, notifier Notifier, options []Option) *Service {
	if len(options) == 0 {
		options = DefaultOptions()
	}
	byID := make(map[string]Option, len(options))
	for _, o := range options {
		byID[o.ID] = o
	}
	return &Service{
		accounts: accounts,
		notifier: notifier,
		options:  options,
		byID:     byID,
	}
}

func (s *Service) Options() []Option {
	return s.options
}

// Request debits the option cost and hands the fulfillment summary to the
// operator channel. The debit is conditional on a covering balance, so of
// two concurrent requests racing one balance, exactly one wins. A failed
// delivery restores exactly what was debited before the error surfaces.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, optionID, note string) (*Receipt, error) {
	opt, ok := s.byID[optionID]
	if !ok {
		return nil, ErrUnknownOption
	}

	acct, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Debit(ctx, userID, opt.Cost); err != nil {
		return nil, err
	}
	newBalance := acct.Balance.Sub(opt.Cost)

	if err := s.notifier.Notify(ctx, s.formatMessage(acct, opt, newBalance, note)); err != nil {
		log.Error().Err(err).
			Str("user_id", userID.String()).
			Str("option_id", optionID).
			Msg("withdrawal notification failed, compensating debit")
		if cerr := s.accounts.Credit(ctx, userID, opt.Cost); cerr != nil {
			// The debit stands with no operator record. Loud on purpose:
			// this needs a human.
			log.Error().Err(cerr).
				Str("user_id", userID.String()).
				Str("cost", opt.Cost.String()).
				Msg("withdrawal compensation failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("option_id", optionID).
		Str("cost", opt.Cost.String()).
		Msg("withdrawal requested")

	return &Receipt{Option: opt, Balance: newBalance}, nil
}

func (s *Service) formatMessage(acct *account.Account, opt Option, newBalance decimal.Decimal, note string) string {
	var b strings.Builder
	b.WriteString("*Withdrawal request*\n")
	fmt.Fprintf(&b, "User: %s (%s)\n", acct.Username, acct.Email)
	fmt.Fprintf(&b, "Option: %s — %s (%s pts)\n", opt.Label, opt.Details, opt.Cost.String())
	fmt.Fprintf(&b, "Balance: %s → %s (pending %s)\n", acct.Balance.String(), newBalance.String(), acct.Pending.String())
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&b, "Note: %s\n", note)
	}
	return b.String()
}
