package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pointrush/pointrush-api/internal/domain/account"
	"github.com/pointrush/pointrush-api/internal/domain/lead"
)

// socialBonus is a fixed-type one-shot balance grant.
type socialBonus struct {
	OfferID string
	Points  decimal.Decimal
}

var socialBonuses = map[string]socialBonus{
	"youtube":   {OfferID: "SOCIALS_YOUTUBE", Points: decimal.NewFromInt(1)},
	"tiktok":    {OfferID: "SOCIALS_TIKTOK", Points: decimal.NewFromInt(1)},
	"instagram": {OfferID: "SOCIALS_INSTAGRAM", Points: decimal.NewFromInt(1)},
	"roblox":    {OfferID: "SOCIALS_ROBLOX", Points: decimal.NewFromInt(1)},
}

var signupBonusPoints = decimal.NewFromInt(5)

// Service is the reconciliation engine. Every entry point runs as one
// atomic unit: open a transaction, take the account row lock, mutate leads
// and the balance/pending pair together, commit. External fetches always
// happen before the transaction opens.
type Service struct {
	db          *sqlx.DB
	accounts    *account.Repository
	leads       *lead.Repository
	feed        CompletionSource
	checkWindow time.Duration
}

func NewService(db *sqlx.DB, accounts *account.Repository, leads *lead.Repository, feed CompletionSource, checkWindow time.Duration) *Service {
	if checkWindow <= 0 {
		checkWindow = 48 * time.Hour
	}
	return &Service{
		db:          db,
		accounts:    accounts,
		leads:       leads,
		feed:        feed,
		checkWindow: checkWindow,
	}
}

// StartResult reports the placeholder created by a manual start together
// with the counters after the optimistic reservation.
type StartResult struct {
	Lead    lead.OfferLead
	Balance decimal.Decimal
	Pending decimal.Decimal
}

// StartOffer records the user's declared intent before any network has
// confirmed anything: a CHECKING placeholder with the user-estimated
// points, reserved against pending until a confirmation or the validation
// window runs out.
func (s *Service) StartOffer(ctx context.Context, userID uuid.UUID, offerID, offerName string, points decimal.Decimal) (*StartResult, error) {
	points = points.Round(2)
	if !points.IsPositive() {
		return nil, ErrInvalidAmount
	}

	raw, _ := json.Marshal(map[string]string{
		"source":     "manual-start",
		"offer_name": offerName,
	})

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	l := &lead.OfferLead{
		ExternalID:  "start-" + uuid.New().String(),
		OfferID:     offerID,
		UserID:      userID,
		Points:      points,
		Status:      lead.StatusChecking,
		AvailableAt: now.Add(s.checkWindow),
		Raw:         raw,
	}
	if _, err := s.leads.CreateTx(ctx, tx, l); err != nil {
		return nil, err
	}

	if err := s.accounts.AdjustTx(ctx, tx, userID, decimal.Zero, points); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	l.CreatedAt = now
	return &StartResult{
		Lead:    *l,
		Balance: acct.Balance,
		Pending: acct.Pending.Add(points),
	}, nil
}

// SyncResult summarizes one passive sync pass.
type SyncResult struct {
	Balance      decimal.Decimal
	Pending      decimal.Decimal
	NewPending   decimal.Decimal
	NewAvailable decimal.Decimal
	Degraded     bool
	Leads        []lead.OfferLead
}

// Sync asks the offer feed what the user completed, reconciles each
// reported completion against existing leads, then matures anything whose
// validation window has elapsed. A feed failure degrades to an
// empty page: maturation still runs, nothing hard-fails.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	var completions []Completion
	degraded := false

	if s.feed == nil {
		degraded = true
	} else {
		var err error
		completions, err = s.feed.Completions(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("offer feed unavailable, sync degraded to sweep only")
			degraded = true
			completions = nil
		}
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	balance := acct.Balance
	pending := acct.Pending
	var balanceDelta, pendingDelta, newPending decimal.Decimal
	now := time.Now()

	for _, c := range completions {
		points := c.Points.Round(2)
		if c.ExternalID == "" || !points.IsPositive() {
			continue
		}

		// I1: a known external id is a replay, never a second credit.
		if _, err := s.leads.GetByExternalIDTx(ctx, tx, c.ExternalID); err == nil {
			continue
		} else if !errors.Is(err, lead.ErrNotFound) {
			return nil, err
		}

		raw, _ := json.Marshal(map[string]string{
			"source":      "sync",
			"external_id": c.ExternalID,
			"offer_id":    c.OfferID,
			"points":      points.String(),
		})

		ph, err := s.leads.FindPlaceholderTx(ctx, tx, userID, c.OfferID, false)
		switch {
		case err == nil:
			// The completion confirms an earlier manual start: correct the
			// estimate to the confirmed amount and restart the window.
			delta := points.Sub(ph.Points)
			if err := s.leads.ConfirmPlaceholderTx(ctx, tx, ph.ID, c.ExternalID, points, lead.StatusPending, now.Add(s.checkWindow), nil, raw); err != nil {
				return nil, err
			}
			delta = s.clampPendingDelta(userID, pending.Add(pendingDelta), delta)
			pendingDelta = pendingDelta.Add(delta)
			newPending = newPending.Add(delta)
		case errors.Is(err, lead.ErrNotFound):
			// Sync discovered a completion the user never declared.
			l := &lead.OfferLead{
				ExternalID:  c.ExternalID,
				OfferID:     c.OfferID,
				UserID:      userID,
				Points:      points,
				Status:      lead.StatusPending,
				AvailableAt: now.Add(s.checkWindow),
				Raw:         raw,
			}
			inserted, err := s.leads.CreateTx(ctx, tx, l)
			if err != nil {
				return nil, err
			}
			if inserted {
				pendingDelta = pendingDelta.Add(points)
				newPending = newPending.Add(points)
			}
		default:
			return nil, err
		}
	}

	sweep, err := s.sweepLocked(ctx, tx, userID, pending.Add(pendingDelta), now)
	if err != nil {
		return nil, err
	}
	balanceDelta = balanceDelta.Add(sweep.balanceDelta)
	pendingDelta = pendingDelta.Add(sweep.pendingDelta)

	if !balanceDelta.IsZero() || !pendingDelta.IsZero() {
		if err := s.accounts.AdjustTx(ctx, tx, userID, balanceDelta, pendingDelta); err != nil {
			return nil, err
		}
	}

	recent, err := s.leads.ListRecentTx(ctx, tx, userID, 25)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &SyncResult{
		Balance:      balance.Add(balanceDelta),
		Pending:      pending.Add(pendingDelta),
		NewPending:   newPending,
		NewAvailable: sweep.matured,
		Degraded:     degraded,
		Leads:        recent,
	}, nil
}

// ApplyResult reports what a postback event did to the ledger.
type ApplyResult struct {
	Action  string
	LeadID  uuid.UUID
	Balance decimal.Decimal
	Pending decimal.Decimal
}

// ApplyReward applies an authoritative reward confirmation. Unlike a sync
// confirmation it does not wait out the validation window: the lead goes
// straight to AVAILABLE and the balance is credited in the same step.
func (s *Service) ApplyReward(ctx context.Context, ev Event) (*ApplyResult, error) {
	points := ev.Points.Round(2)
	if !points.IsPositive() {
		return nil, ErrInvalidAmount
	}

	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		return nil, account.ErrNotFound
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	// Replayed delivery: the network resends until it sees a 2xx, so a
	// known external id is absorbed without touching the counters.
	if existing, err := s.leads.GetByExternalIDTx(ctx, tx, ev.ExternalID); err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: commit tx", ErrInternal)
		}
		return &ApplyResult{Action: "duplicate", LeadID: existing.ID, Balance: acct.Balance, Pending: acct.Pending}, nil
	} else if !errors.Is(err, lead.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	var leadID uuid.UUID
	release := decimal.Zero

	ph, err := s.leads.FindPlaceholderTx(ctx, tx, userID, ev.OfferID, ev.NewestFirst)
	switch {
	case err == nil:
		release = decimal.Min(ph.Points, acct.Pending)
		if release.IsNegative() {
			release = decimal.Zero
		}
		if ph.Points.GreaterThan(acct.Pending) {
			log.Warn().
				Str("user_id", userID.String()).
				Str("lead_id", ph.ID.String()).
				Str("reserved", ph.Points.String()).
				Str("pending", acct.Pending.String()).
				Msg("placeholder reservation exceeds account pending, clamping release")
		}
		if err := s.leads.ConfirmPlaceholderTx(ctx, tx, ph.ID, ev.ExternalID, points, lead.StatusAvailable, now, &now, ev.rawJSON()); err != nil {
			return nil, err
		}
		leadID = ph.ID
	case errors.Is(err, lead.ErrNotFound):
		l := &lead.OfferLead{
			ExternalID:  ev.ExternalID,
			OfferID:     ev.OfferID,
			UserID:      userID,
			Points:      points,
			Status:      lead.StatusAvailable,
			AvailableAt: now,
			AwardedAt:   &now,
			Raw:         ev.rawJSON(),
		}
		inserted, err := s.leads.CreateTx(ctx, tx, l)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Lost an upsert race against a concurrent delivery of the
			// same external id; the winner already credited.
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("%w: commit tx", ErrInternal)
			}
			return &ApplyResult{Action: "duplicate", Balance: acct.Balance, Pending: acct.Pending}, nil
		}
		leadID = l.ID
	default:
		return nil, err
	}

	if err := s.accounts.AdjustTx(ctx, tx, userID, points, release.Neg()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("network", ev.Network).
		Str("user_id", userID.String()).
		Str("external_id", ev.ExternalID).
		Str("points", points.String()).
		Msg("reward applied")

	return &ApplyResult{
		Action:  "reward",
		LeadID:  leadID,
		Balance: acct.Balance.Add(points),
		Pending: acct.Pending.Sub(release),
	}, nil
}

// ApplyReversal applies a chargeback. The lead is failed (a stub is
// created when the reversal references an unknown conversion, so the
// dispute trail survives) and the balance is debited, floored at zero.
func (s *Service) ApplyReversal(ctx context.Context, ev Event) (*ApplyResult, error) {
	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		return nil, account.ErrNotFound
	}

	points := ev.Points.Round(2)

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var leadID uuid.UUID
	amount := points

	existing, err := s.leads.GetByExternalIDTx(ctx, tx, ev.ExternalID)
	switch {
	case err == nil:
		if existing.Status == lead.StatusFailed {
			// Replayed reversal; the debit already happened once.
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("%w: commit tx", ErrInternal)
			}
			return &ApplyResult{Action: "duplicate", LeadID: existing.ID, Balance: acct.Balance, Pending: acct.Pending}, nil
		}
		if err := s.leads.MarkFailedTx(ctx, tx, existing.ID, ev.rawJSON()); err != nil {
			return nil, err
		}
		leadID = existing.ID
		if !amount.IsPositive() {
			amount = existing.Points
		}
	case errors.Is(err, lead.ErrNotFound):
		stub := &lead.OfferLead{
			ExternalID:  ev.ExternalID,
			OfferID:     ev.OfferID,
			UserID:      userID,
			Points:      points,
			Status:      lead.StatusFailed,
			AvailableAt: now,
			Raw:         ev.rawJSON(),
		}
		if _, err := s.leads.CreateTx(ctx, tx, stub); err != nil {
			return nil, err
		}
		leadID = stub.ID
	default:
		return nil, err
	}

	debit := decimal.Min(amount, acct.Balance)
	if debit.IsNegative() {
		debit = decimal.Zero
	}
	if !debit.IsZero() {
		if err := s.accounts.AdjustTx(ctx, tx, userID, debit.Neg(), decimal.Zero); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("network", ev.Network).
		Str("user_id", userID.String()).
		Str("external_id", ev.ExternalID).
		Str("debited", debit.String()).
		Msg("reversal applied")

	return &ApplyResult{
		Action:  "reversal",
		LeadID:  leadID,
		Balance: acct.Balance.Sub(debit),
		Pending: acct.Pending,
	}, nil
}

type sweepOutcome struct {
	balanceDelta decimal.Decimal
	pendingDelta decimal.Decimal
	matured      decimal.Decimal
	failed       int
}

// SweepResult reports what a standalone sweep changed.
type SweepResult struct {
	Balance     decimal.Decimal
	Pending     decimal.Decimal
	Matured     decimal.Decimal
	FailedLeads int
}

// Sweep runs the lazy terminal pass in its own transaction.
func (s *Service) Sweep(ctx context.Context, userID uuid.UUID) (*SweepResult, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.sweepLocked(ctx, tx, userID, acct.Pending, time.Now())
	if err != nil {
		return nil, err
	}

	if !outcome.balanceDelta.IsZero() || !outcome.pendingDelta.IsZero() {
		if err := s.accounts.AdjustTx(ctx, tx, userID, outcome.balanceDelta, outcome.pendingDelta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &SweepResult{
		Balance:     acct.Balance.Add(outcome.balanceDelta),
		Pending:     acct.Pending.Add(outcome.pendingDelta),
		Matured:     outcome.matured,
		FailedLeads: outcome.failed,
	}, nil
}

// sweepLocked runs the lazy terminal pass for one account inside the
// caller's transaction. pendingNow is the account's pending counter as the
// caller currently tracks it (lock held, so it cannot move underneath).
func (s *Service) sweepLocked(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, pendingNow decimal.Decimal, now time.Time) (*sweepOutcome, error) {
	outcome := &sweepOutcome{}

	// Abandoned CHECKING leads fail terminally and give their reservation
	// back (I4); the release is clamped so pending never goes negative.
	expired, err := s.leads.ListExpiredCheckingTx(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		ids := make([]uuid.UUID, 0, len(expired))
		reserved := decimal.Zero
		for _, l := range expired {
			ids = append(ids, l.ID)
			reserved = reserved.Add(l.Points)
		}
		if err := s.leads.FailManyTx(ctx, tx, ids); err != nil {
			return nil, err
		}
		release := s.clampPendingDelta(userID, pendingNow, reserved.Neg()).Neg()
		outcome.pendingDelta = outcome.pendingDelta.Sub(release)
		outcome.failed = len(expired)
		pendingNow = pendingNow.Sub(release)
	}

	// Matured PENDING leads move their amount from pending to balance in
	// the same atomic step they flip AVAILABLE.
	matured, err := s.leads.ListMaturedPendingTx(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(matured) > 0 {
		ids := make([]uuid.UUID, 0, len(matured))
		credit := decimal.Zero
		for _, l := range matured {
			ids = append(ids, l.ID)
			credit = credit.Add(l.Points)
		}
		if err := s.leads.MatureManyTx(ctx, tx, ids, now); err != nil {
			return nil, err
		}
		release := s.clampPendingDelta(userID, pendingNow, credit.Neg()).Neg()
		outcome.balanceDelta = outcome.balanceDelta.Add(credit)
		outcome.pendingDelta = outcome.pendingDelta.Sub(release)
		outcome.matured = credit
	}

	return outcome, nil
}

// Summary is the account snapshot returned to the client: counters after
// the lazy sweep, the derived level, and the recent lead history.
type Summary struct {
	Account        account.Account
	Level          int64
	BonusGranted   bool
	Recent         []lead.OfferLead
	ClaimedSocials []string
}

// GetSummary reads the account through the engine: it takes the row lock,
// runs the lazy sweep so the snapshot never shows stale CHECKING or
// PENDING leads, and grants the one-time signup bonus on first read.
func (s *Service) GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.sweepLocked(ctx, tx, userID, acct.Pending, time.Now())
	if err != nil {
		return nil, err
	}
	balanceDelta := outcome.balanceDelta
	pendingDelta := outcome.pendingDelta

	granted := false
	if !acct.SignupBonusAwarded {
		granted, err = s.accounts.MarkSignupBonusTx(ctx, tx, userID, signupBonusPoints)
		if err != nil {
			return nil, err
		}
	}

	if !balanceDelta.IsZero() || !pendingDelta.IsZero() {
		if err := s.accounts.AdjustTx(ctx, tx, userID, balanceDelta, pendingDelta); err != nil {
			return nil, err
		}
	}

	recent, err := s.leads.ListRecentTx(ctx, tx, userID, 10)
	if err != nil {
		return nil, err
	}

	socialOffers := make([]string, 0, len(socialBonuses))
	for _, b := range socialBonuses {
		socialOffers = append(socialOffers, b.OfferID)
	}
	claimed, err := s.leads.ListOfferIDsTx(ctx, tx, userID, socialOffers)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	acct.Balance = acct.Balance.Add(balanceDelta)
	acct.Pending = acct.Pending.Add(pendingDelta)
	if granted {
		acct.Balance = acct.Balance.Add(signupBonusPoints)
		acct.SignupBonusAwarded = true
	}

	return &Summary{
		Account:        *acct,
		Level:          accountLevel(acct.Balance, acct.Pending),
		BonusGranted:   granted,
		Recent:         recent,
		ClaimedSocials: claimed,
	}, nil
}

// ClaimSocialBonus grants the fixed one-shot bonus for following a social
// channel. Each bonus type can be claimed once per account; the claim is
// recorded as an AVAILABLE lead so the history shows where the point came
// from.
func (s *Service) ClaimSocialBonus(ctx context.Context, userID uuid.UUID, bonusType string) (*ApplyResult, error) {
	bonus, ok := socialBonuses[bonusType]
	if !ok {
		return nil, ErrUnknownBonusType
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acct, err := s.accounts.LockTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	exists, err := s.leads.HasForOfferTx(ctx, tx, userID, bonus.OfferID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrBonusAlreadyClaimed
	}

	now := time.Now()
	raw, _ := json.Marshal(map[string]string{"source": "social-bonus", "type": bonusType})
	l := &lead.OfferLead{
		ExternalID:  "social-" + uuid.New().String(),
		OfferID:     bonus.OfferID,
		UserID:      userID,
		Points:      bonus.Points,
		Status:      lead.StatusAvailable,
		AvailableAt: now,
		AwardedAt:   &now,
		Raw:         raw,
	}
	if _, err := s.leads.CreateTx(ctx, tx, l); err != nil {
		return nil, err
	}

	if err := s.accounts.AdjustTx(ctx, tx, userID, bonus.Points, decimal.Zero); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &ApplyResult{
		Action:  "reward",
		LeadID:  l.ID,
		Balance: acct.Balance.Add(bonus.Points),
		Pending: acct.Pending,
	}, nil
}

// accountLevel derives the display level from lifetime points on hand.
// One level per 100 points, never below 1.
func accountLevel(balance, pending decimal.Decimal) int64 {
	level := balance.Add(pending).Div(decimal.NewFromInt(100)).Floor().IntPart() + 1
	if level < 1 {
		return 1
	}
	return level
}

// clampPendingDelta floors the pending counter at zero. Reservations are
// estimates, not ledger-tracked holds, so corrections can overshoot; the
// lost remainder is logged as a data-quality signal instead of letting the
// counter go negative.
func (s *Service) clampPendingDelta(userID uuid.UUID, pendingNow, delta decimal.Decimal) decimal.Decimal {
	next := pendingNow.Add(delta)
	if !next.IsNegative() {
		return delta
	}
	log.Warn().
		Str("user_id", userID.String()).
		Str("pending", pendingNow.String()).
		Str("delta", delta.String()).
		Msg("pending correction would go negative, clamping to zero")
	return pendingNow.Neg()
}
