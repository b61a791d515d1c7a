package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Repository provides account reads and counter mutations. Every mutation
// that pairs balance and pending changes runs inside a caller-owned
// transaction holding the account row lock, so the two counters can never
// be observed mid-update.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var acct Account
	err := r.db.GetContext(ctx, &acct, `
		SELECT id, email, username, balance, pending, is_admin, signup_bonus_awarded, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

// LockTx loads the account row FOR UPDATE. All reconciliation entry points
// take this lock first, which serializes concurrent triggers per account.
func (r *Repository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Account, error) {
	var acct Account
	err := tx.GetContext(ctx, &acct, `
		SELECT id, email, username, balance, pending, is_admin, signup_bonus_awarded, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &acct, nil
}

// AdjustTx applies balance and pending deltas in a single UPDATE. Callers
// are responsible for clamping: deltas are applied verbatim.
func (r *Repository) AdjustTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, balanceDelta, pendingDelta decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2, pending = pending + $3, updated_at = now()
		WHERE id = $1
	`, id, balanceDelta, pendingDelta)
	if err != nil {
		return fmt.Errorf("adjust account counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust account counters: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSignupBonusTx credits the one-time signup bonus and sets the flag.
// Returns false without mutating when the bonus was already awarded.
func (r *Repository) MarkSignupBonusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, bonus decimal.Decimal) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2, signup_bonus_awarded = TRUE, updated_at = now()
		WHERE id = $1 AND signup_bonus_awarded = FALSE
	`, id, bonus)
	if err != nil {
		return false, fmt.Errorf("award signup bonus: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("award signup bonus: %w", err)
	}
	return rows > 0, nil
}

// Debit conditionally deducts amount from balance. The WHERE guard makes
// the deduction atomic against concurrent debits on a stale read: of two
// racing withdrawals against one covering balance, exactly one succeeds.
func (r *Repository) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2
	`, id, amount)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if rows == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// Credit adds amount back to balance. Used as the compensating action when
// a withdrawal notification fails after the debit committed.
func (r *Repository) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
