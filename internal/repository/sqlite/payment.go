package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// PaymentRepo implements PaymentRepository on SQLite.
type PaymentRepo struct{ db *DB }

// NewPaymentRepo constructs a payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, user_id, pack_id, credits, stripe_session_id, status, amount_total, currency, created_at, fulfilled_at`

// CreateAttempt inserts p in status created.
func (r *PaymentRepo) CreateAttempt(ctx context.Context, p *model.PurchaseAttempt) error {
	if p.ExternalRef == "" || p.Credits <= 0 {
		return fmt.Errorf("%w: purchase needs a session ref and positive credits", errs.ErrValidation)
	}
	now := r.db.stamp()
	const q = `
INSERT INTO payments (id, user_id, pack_id, credits, stripe_session_id, status, amount_total, currency, created_at)
VALUES (?, ?, ?, ?, ?, 'created', ?, ?, ?)`
	_, err := r.db.SQL.ExecContext(ctx, q,
		p.ID, p.AccountID, p.PackID, p.Credits, p.ExternalRef, p.AmountTotal, p.Currency, now)
	switch {
	case err == nil:
		p.Status = model.PurchaseCreated
		p.CreatedAt = fromNanos(now)
		return nil
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("account %s: %w", p.AccountID, errs.ErrNotFound)
	}
	return err
}

// GetByRef loads an attempt by its provider session id.
func (r *PaymentRepo) GetByRef(ctx context.Context, ref string) (*model.PurchaseAttempt, error) {
	return getPayment(ctx, r.db.SQL, ref)
}

func getPayment(ctx context.Context, q execQuerier, ref string) (*model.PurchaseAttempt, error) {
	var (
		p         model.PurchaseAttempt
		status    string
		created   int64
		fulfilled sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE stripe_session_id=?`, ref).
		Scan(&p.ID, &p.AccountID, &p.PackID, &p.Credits, &p.ExternalRef, &status,
			&p.AmountTotal, &p.Currency, &created, &fulfilled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.PurchaseStatus(status)
	p.CreatedAt = fromNanos(created)
	p.FulfilledAt = fromNullNanos(fulfilled)
	return &p, nil
}

// Fulfill credits the attempt's pack and marks it fulfilled in one transaction.
func (r *PaymentRepo) Fulfill(ctx context.Context, ref string, amountTotal int64, currency string) (*model.PurchaseAttempt, int64, error) {
	var (
		p   *model.PurchaseAttempt
		bal int64
	)
	now := r.db.stamp()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if p, err = getPayment(ctx, tx, ref); err != nil {
			return err
		}
		if p.Status == model.PurchaseFulfilled {
			return errs.ErrDuplicatePurchaseEvent
		}
		if !p.Status.CanTransition(model.PurchaseFulfilled) {
			return fmt.Errorf("purchase %s is %s: %w", ref, p.Status, errs.ErrInvalidTransition)
		}

		bal, _, err = creditTx(ctx, tx, model.LedgerEntry{
			AccountID:   p.AccountID,
			Delta:       p.Credits,
			Reason:      model.ReasonPurchase,
			ExternalRef: ref,
		}, now)
		if err != nil {
			return err
		}

		if amountTotal > 0 {
			p.AmountTotal = amountTotal
		}
		if currency != "" {
			p.Currency = currency
		}
		const upd = `
UPDATE payments SET status='fulfilled', fulfilled_at=?, amount_total=?, currency=?
WHERE id=?`
		if _, err = tx.ExecContext(ctx, upd, now, p.AmountTotal, p.Currency, p.ID); err != nil {
			return err
		}
		p.Status = model.PurchaseFulfilled
		p.FulfilledAt = fromNullNanos(sql.NullInt64{Int64: now, Valid: true})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return p, bal, nil
}

// MarkStatus moves a created or paid attempt to canceled or failed.
func (r *PaymentRepo) MarkStatus(ctx context.Context, ref string, status model.PurchaseStatus) error {
	if status != model.PurchaseCanceled && status != model.PurchaseFailed {
		return fmt.Errorf("%w: cannot mark purchase %s", errs.ErrValidation, status)
	}
	const upd = `UPDATE payments SET status=? WHERE stripe_session_id=? AND status IN ('created', 'paid')`
	res, err := r.db.SQL.ExecContext(ctx, upd, string(status), ref)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 1 {
		return nil
	}
	cur, err := r.GetByRef(ctx, ref)
	if err != nil {
		return err
	}
	if cur.Status == status {
		return errs.ErrDuplicatePurchaseEvent
	}
	return fmt.Errorf("purchase %s is %s: %w", ref, cur.Status, errs.ErrInvalidTransition)
}
