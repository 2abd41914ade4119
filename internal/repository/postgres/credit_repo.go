package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// CreditRepo implements CreditRepository using PostgreSQL.
// Rows are always locked ip first, account second.
type CreditRepo struct{ db *DB }

// NewCreditRepo constructs a credit repository.
func NewCreditRepo(db *DB) *CreditRepo { return &CreditRepo{db: db} }

const (
	sqlEnsureIP = `
INSERT INTO ip_credits (ip_address, free_remaining)
VALUES ($1, $2)
ON CONFLICT (ip_address) DO NOTHING`
	sqlLockIP      = `SELECT free_remaining FROM ip_credits WHERE ip_address=$1 FOR UPDATE`
	sqlLockBalance = `SELECT balance FROM credits WHERE user_id=$1 FOR UPDATE`
	sqlTakeFree    = `
UPDATE ip_credits SET free_remaining = free_remaining - $2, last_seen_at = now()
WHERE ip_address=$1 AND free_remaining >= $2`
	sqlTakePurchased = `
UPDATE credits SET balance = balance - $2, updated_at = now()
WHERE user_id=$1 AND balance >= $2`
	sqlInsertEntry = `
INSERT INTO credit_ledger (user_id, delta, reason, stripe_session_id, generation_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`
	sqlEnsureBalance = `
INSERT INTO credits (user_id, balance) VALUES ($1, 0)
ON CONFLICT (user_id) DO NOTHING`
	sqlMoveBalance = `
UPDATE credits SET balance = balance + $2, updated_at = now()
WHERE user_id=$1
RETURNING balance`
	sqlReadBalance = `SELECT balance FROM credits WHERE user_id=$1`
)

// Balance returns the free pool of ip and the purchased balance of accountID.
func (r *CreditRepo) Balance(ctx context.Context, ip string, accountID uuid.UUID, freeDefault int64) (model.Credits, error) {
	var c model.Credits
	if ip != "" {
		const q = `
INSERT INTO ip_credits (ip_address, free_remaining)
VALUES ($1, $2)
ON CONFLICT (ip_address) DO UPDATE SET last_seen_at = now()
RETURNING free_remaining`
		if err := r.db.Pool.QueryRow(ctx, q, ip, freeDefault).Scan(&c.Free); err != nil {
			return model.Credits{}, err
		}
	}
	if accountID != uuid.Nil {
		err := r.db.Pool.QueryRow(ctx, sqlReadBalance, accountID).Scan(&c.Purchased)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return model.Credits{}, err
		}
	}
	return c, nil
}

// Consume deducts amount from the free pool first and the purchased balance second.
func (r *CreditRepo) Consume(
	ctx context.Context, ip string, accountID uuid.UUID, amount, freeDefault int64, jobID uuid.UUID,
) (res model.Consumption, err error) {
	if amount <= 0 {
		return model.Consumption{}, fmt.Errorf("%w: amount must be positive", errs.ErrValidation)
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Consumption{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	var free, purchased int64
	if ip != "" {
		if _, err = tx.Exec(ctx, sqlEnsureIP, ip, freeDefault); err != nil {
			return model.Consumption{}, err
		}
		if err = tx.QueryRow(ctx, sqlLockIP, ip).Scan(&free); err != nil {
			return model.Consumption{}, err
		}
	}
	if accountID != uuid.Nil {
		err = tx.QueryRow(ctx, sqlLockBalance, accountID).Scan(&purchased)
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
		}
		if err != nil {
			return model.Consumption{}, err
		}
	}
	if free+purchased < amount {
		return model.Consumption{}, errs.ErrInsufficientCredits
	}

	freeUsed := min(free, amount)
	purchasedUsed := amount - freeUsed

	if freeUsed > 0 {
		if err = takeExact(ctx, tx, sqlTakeFree, ip, freeUsed); err != nil {
			return model.Consumption{}, err
		}
	}
	if purchasedUsed > 0 {
		if err = takeExact(ctx, tx, sqlTakePurchased, accountID, purchasedUsed); err != nil {
			return model.Consumption{}, err
		}
		if _, err = tx.Exec(ctx, sqlInsertEntry,
			accountID, -purchasedUsed, string(model.ReasonConsumption), nil, nullID(jobID)); err != nil {
			return model.Consumption{}, err
		}
	}

	res.Free = free - freeUsed
	res.Purchased = purchased - purchasedUsed
	res.FreeUsed = freeUsed
	res.PurchasedUsed = purchasedUsed
	return res, nil
}

// takeExact runs a conditional decrement and requires exactly one row to move.
func takeExact(ctx context.Context, q querier, sql string, key any, n int64) error {
	tag, err := q.Exec(ctx, sql, key, n)
	if err != nil {
		if isCheckViolation(err) {
			return errs.ErrInsufficientCredits
		}
		return err
	}
	if tag.RowsAffected() != 1 {
		return errs.ErrInsufficientCredits
	}
	return nil
}

// Credit appends e and applies its delta to the cached balance.
func (r *CreditRepo) Credit(ctx context.Context, e model.LedgerEntry) (balance int64, applied bool, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	return creditTx(ctx, tx, e)
}

// creditTx is the ledger write shared by Credit and payment fulfillment.
func creditTx(ctx context.Context, q querier, e model.LedgerEntry) (int64, bool, error) {
	if err := e.Validate(); err != nil {
		return 0, false, err
	}

	tag, err := q.Exec(ctx, sqlInsertEntry,
		e.AccountID, e.Delta, string(e.Reason), nullRef(e.ExternalRef), nullID(e.JobID))
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, false, fmt.Errorf("account %s: %w", e.AccountID, errs.ErrNotFound)
		}
		return 0, false, err
	}
	var bal int64
	if tag.RowsAffected() == 0 {
		if err = q.QueryRow(ctx, sqlReadBalance, e.AccountID).Scan(&bal); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, err
		}
		return bal, false, nil
	}

	if _, err = q.Exec(ctx, sqlEnsureBalance, e.AccountID); err != nil {
		return 0, false, err
	}
	if err = q.QueryRow(ctx, sqlMoveBalance, e.AccountID, e.Delta).Scan(&bal); err != nil {
		if isCheckViolation(err) {
			return 0, false, errs.ErrInsufficientCredits
		}
		return 0, false, err
	}
	return bal, true, nil
}

// Entries returns up to limit ledger entries, newest first.
func (r *CreditRepo) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	const q = `
SELECT id, user_id, delta, reason, COALESCE(stripe_session_id, ''), generation_id, created_at
FROM credit_ledger
WHERE user_id=$1
ORDER BY id DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e      model.LedgerEntry
			reason string
			job    uuid.NullUUID
		)
		if err = rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason, &e.ExternalRef, &job, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = model.Reason(reason)
		e.JobID = job.UUID
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResetFree sets the free pool of ip to remaining.
func (r *CreditRepo) ResetFree(ctx context.Context, ip string, remaining int64) error {
	if ip == "" || remaining < 0 {
		return fmt.Errorf("%w: ip and non-negative remaining required", errs.ErrValidation)
	}
	const q = `
INSERT INTO ip_credits (ip_address, free_remaining)
VALUES ($1, $2)
ON CONFLICT (ip_address) DO UPDATE SET free_remaining = EXCLUDED.free_remaining`
	_, err := r.db.Pool.Exec(ctx, q, ip, remaining)
	return err
}

func nullID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullRef(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}
