package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// CreditRepo implements CreditRepository on SQLite.
type CreditRepo struct{ db *DB }

// NewCreditRepo constructs a credit repository.
func NewCreditRepo(db *DB) *CreditRepo { return &CreditRepo{db: db} }

const sqlInsertEntry = `
INSERT INTO credit_ledger (user_id, delta, reason, stripe_session_id, generation_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

// Balance returns the free pool of ip and the purchased balance of accountID.
func (r *CreditRepo) Balance(ctx context.Context, ip string, accountID uuid.UUID, freeDefault int64) (model.Credits, error) {
	var c model.Credits
	if ip != "" {
		now := r.db.stamp()
		const q = `
INSERT INTO ip_credits (ip_address, free_remaining, created_at, last_seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (ip_address) DO UPDATE SET last_seen_at = excluded.last_seen_at
RETURNING free_remaining`
		if err := r.db.SQL.QueryRowContext(ctx, q, ip, freeDefault, now, now).Scan(&c.Free); err != nil {
			return model.Credits{}, err
		}
	}
	if accountID != uuid.Nil {
		var err error
		c.Purchased, err = readBalance(ctx, r.db.SQL, accountID)
		if err != nil {
			return model.Credits{}, err
		}
	}
	return c, nil
}

func readBalance(ctx context.Context, q execQuerier, accountID uuid.UUID) (int64, error) {
	var bal int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id=?`, accountID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

// Consume deducts amount, free pool first. The write transaction is taken
// immediately, so concurrent consumers are serialized.
func (r *CreditRepo) Consume(
	ctx context.Context, ip string, accountID uuid.UUID, amount, freeDefault int64, jobID uuid.UUID,
) (model.Consumption, error) {
	if amount <= 0 {
		return model.Consumption{}, fmt.Errorf("%w: amount must be positive", errs.ErrValidation)
	}
	var res model.Consumption
	now := r.db.stamp()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var free, purchased int64
		if ip != "" {
			const ensure = `
INSERT INTO ip_credits (ip_address, free_remaining, created_at, last_seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (ip_address) DO NOTHING`
			if _, err := tx.ExecContext(ctx, ensure, ip, freeDefault, now, now); err != nil {
				return err
			}
			if err := tx.QueryRowContext(ctx,
				`SELECT free_remaining FROM ip_credits WHERE ip_address=?`, ip).Scan(&free); err != nil {
				return err
			}
		}
		if accountID != uuid.Nil {
			var err error
			if purchased, err = readBalance(ctx, tx, accountID); err != nil {
				return err
			}
		}
		if free+purchased < amount {
			return errs.ErrInsufficientCredits
		}

		freeUsed := min(free, amount)
		purchasedUsed := amount - freeUsed
		if freeUsed > 0 {
			const take = `
UPDATE ip_credits SET free_remaining = free_remaining - ?, last_seen_at = ?
WHERE ip_address=? AND free_remaining >= ?`
			if err := takeExact(tx.ExecContext(ctx, take, freeUsed, now, ip, freeUsed)); err != nil {
				return err
			}
		}
		if purchasedUsed > 0 {
			const take = `
UPDATE credits SET balance = balance - ?, updated_at = ?
WHERE user_id=? AND balance >= ?`
			if err := takeExact(tx.ExecContext(ctx, take, purchasedUsed, now, accountID, purchasedUsed)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, sqlInsertEntry,
				accountID, -purchasedUsed, string(model.ReasonConsumption), nil, nullID(jobID), now); err != nil {
				return err
			}
		}
		res = model.Consumption{
			Credits:       model.Credits{Free: free - freeUsed, Purchased: purchased - purchasedUsed},
			FreeUsed:      freeUsed,
			PurchasedUsed: purchasedUsed,
		}
		return nil
	})
	if err != nil {
		return model.Consumption{}, err
	}
	return res, nil
}

func takeExact(res sql.Result, err error) error {
	if err != nil {
		if isCheckViolation(err) {
			return errs.ErrInsufficientCredits
		}
		return err
	}
	if rowsAffected(res) != 1 {
		return errs.ErrInsufficientCredits
	}
	return nil
}

// Credit appends e and moves the cached balance.
func (r *CreditRepo) Credit(ctx context.Context, e model.LedgerEntry) (int64, bool, error) {
	var (
		bal     int64
		applied bool
	)
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		bal, applied, err = creditTx(ctx, tx, e, r.db.stamp())
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return bal, applied, nil
}

func creditTx(ctx context.Context, tx execQuerier, e model.LedgerEntry, now int64) (int64, bool, error) {
	if err := e.Validate(); err != nil {
		return 0, false, err
	}
	res, err := tx.ExecContext(ctx, sqlInsertEntry,
		e.AccountID, e.Delta, string(e.Reason), nullRef(e.ExternalRef), nullID(e.JobID), now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, false, fmt.Errorf("account %s: %w", e.AccountID, errs.ErrNotFound)
		}
		return 0, false, err
	}
	if rowsAffected(res) == 0 {
		bal, err := readBalance(ctx, tx, e.AccountID)
		return bal, false, err
	}

	const ensure = `INSERT INTO credits (user_id, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT (user_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, ensure, e.AccountID, now); err != nil {
		return 0, false, err
	}
	const move = `UPDATE credits SET balance = balance + ?, updated_at = ? WHERE user_id=? RETURNING balance`
	var bal int64
	if err = tx.QueryRowContext(ctx, move, e.Delta, now, e.AccountID).Scan(&bal); err != nil {
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
FROM credit_ledger WHERE user_id=? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.SQL.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e       model.LedgerEntry
			reason  string
			job     uuid.NullUUID
			created int64
		)
		if err = rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason, &e.ExternalRef, &job, &created); err != nil {
			return nil, err
		}
		e.Reason = model.Reason(reason)
		e.JobID = job.UUID
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResetFree sets the free pool of ip to remaining.
func (r *CreditRepo) ResetFree(ctx context.Context, ip string, remaining int64) error {
	if ip == "" || remaining < 0 {
		return fmt.Errorf("%w: ip and non-negative remaining required", errs.ErrValidation)
	}
	now := r.db.stamp()
	const q = `
INSERT INTO ip_credits (ip_address, free_remaining, created_at, last_seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (ip_address) DO UPDATE SET free_remaining = excluded.free_remaining`
	_, err := r.db.SQL.ExecContext(ctx, q, ip, remaining, now, now)
	return err
}

func nullID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullRef(ref string) sql.NullString {
	return sql.NullString{String: ref, Valid: ref != ""}
}
