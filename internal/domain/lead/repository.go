package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const leadColumns = `id, external_id, offer_id, user_id, points, status, available_at, awarded_at, created_at, raw`

// Repository provides OfferLead persistence. Mutations are Tx-scoped: the
// reconciliation engine opens the transaction and holds the owning account
// row lock for its duration.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByExternalIDTx(ctx context.Context, tx *sqlx.Tx, externalID string) (*OfferLead, error) {
	var l OfferLead
	err := tx.GetContext(ctx, &l, `
		SELECT `+leadColumns+`
		FROM offer_leads
		WHERE external_id = $1
	`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead by external id: %w", err)
	}
	return &l, nil
}

// FindPlaceholderTx returns the unmatched CHECKING lead for the same
// (user, offer) pair. Match order is per-network: most integrated networks
// report against the latest attempt, AdBlue and the passive sync against
// the earliest.
func (r *Repository) FindPlaceholderTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, offerID string, newestFirst bool) (*OfferLead, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	var l OfferLead
	err := tx.GetContext(ctx, &l, `
		SELECT `+leadColumns+`
		FROM offer_leads
		WHERE user_id = $1 AND offer_id = $2 AND status = 'CHECKING'
		ORDER BY created_at `+order+`
		LIMIT 1
	`, userID, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find placeholder lead: %w", err)
	}
	return &l, nil
}

// CreateTx inserts a new lead. Returns false without error when another
// row already carries the external id (concurrent duplicate delivery).
func (r *Repository) CreateTx(ctx context.Context, tx *sqlx.Tx, l *OfferLead) (bool, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if len(l.Raw) == 0 {
		l.Raw = []byte("{}")
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO offer_leads (id, external_id, offer_id, user_id, points, status, available_at, awarded_at, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO NOTHING
	`, l.ID, l.ExternalID, l.OfferID, l.UserID, l.Points, l.Status, l.AvailableAt, l.AwardedAt, l.Raw)
	if err != nil {
		return false, fmt.Errorf("create lead: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create lead: %w", err)
	}
	return rows > 0, nil
}

// ConfirmPlaceholderTx matches a CHECKING placeholder to a confirmed
// external event: the network id takes over as the idempotency key, the
// points are corrected to the confirmed amount and the lead advances.
func (r *Repository) ConfirmPlaceholderTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, externalID string, points decimal.Decimal, status Status, availableAt time.Time, awardedAt *time.Time, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE offer_leads
		SET external_id = $2, points = $3, status = $4, available_at = $5, awarded_at = $6, raw = $7
		WHERE id = $1 AND status = 'CHECKING'
	`, id, externalID, points, status, availableAt, awardedAt, raw)
	if err != nil {
		return fmt.Errorf("confirm placeholder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm placeholder: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailedTx moves a lead to the terminal FAILED state, keeping the
// latest raw payload for the audit trail.
func (r *Repository) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, raw []byte) error {
	var err error
	if len(raw) > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE offer_leads SET status = 'FAILED', raw = $2 WHERE id = $1`, id, raw)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE offer_leads SET status = 'FAILED' WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("mark lead failed: %w", err)
	}
	return nil
}

// ListExpiredCheckingTx returns CHECKING leads whose validation window has
// passed without a confirming event.
func (r *Repository) ListExpiredCheckingTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, now time.Time) ([]OfferLead, error) {
	leads := make([]OfferLead, 0)
	err := tx.SelectContext(ctx, &leads, `
		SELECT `+leadColumns+`
		FROM offer_leads
		WHERE user_id = $1 AND status = 'CHECKING' AND available_at <= $2
		ORDER BY created_at
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list expired checking leads: %w", err)
	}
	return leads, nil
}

// ListMaturedPendingTx returns PENDING leads whose validation window has
// elapsed and which may now mature to AVAILABLE.
func (r *Repository) ListMaturedPendingTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, now time.Time) ([]OfferLead, error) {
	leads := make([]OfferLead, 0)
	err := tx.SelectContext(ctx, &leads, `
		SELECT `+leadColumns+`
		FROM offer_leads
		WHERE user_id = $1 AND status = 'PENDING' AND available_at <= $2
		ORDER BY created_at
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list matured pending leads: %w", err)
	}
	return leads, nil
}

// FailManyTx marks the given leads FAILED.
func (r *Repository) FailManyTx(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE offer_leads SET status = 'FAILED' WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("fail leads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("fail leads: %w", err)
	}
	return nil
}

// MatureManyTx flips the given leads to AVAILABLE and stamps awarded_at.
func (r *Repository) MatureManyTx(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE offer_leads SET status = 'AVAILABLE', awarded_at = ? WHERE id IN (?)`, now, ids)
	if err != nil {
		return fmt.Errorf("mature leads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("mature leads: %w", err)
	}
	return nil
}

// HasForOfferTx reports whether the user already has any lead for the
// given offer id, regardless of status. Used by one-shot bonus grants.
func (r *Repository) HasForOfferTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, offerID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM offer_leads WHERE user_id = $1 AND offer_id = $2)
	`, userID, offerID)
	if err != nil {
		return false, fmt.Errorf("check lead for offer: %w", err)
	}
	return exists, nil
}

// ListRecentTx returns the user's newest leads, newest first.
func (r *Repository) ListRecentTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, limit int) ([]OfferLead, error) {
	if limit <= 0 {
		limit = 10
	}
	leads := make([]OfferLead, 0, limit)
	err := tx.SelectContext(ctx, &leads, `
		SELECT `+leadColumns+`
		FROM offer_leads
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent leads: %w", err)
	}
	return leads, nil
}

// ListOfferIDsTx returns the distinct offer ids the user holds leads for,
// filtered to the given set. Used to report claimed social bonuses.
func (r *Repository) ListOfferIDsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, offerIDs []string) ([]string, error) {
	if len(offerIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT offer_id FROM offer_leads WHERE user_id = ? AND offer_id IN (?)
	`, userID, offerIDs)
	if err != nil {
		return nil, fmt.Errorf("list claimed offer ids: %w", err)
	}
	claimed := make([]string, 0, len(offerIDs))
	if err := tx.SelectContext(ctx, &claimed, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list claimed offer ids: %w", err)
	}
	return claimed, nil
}
