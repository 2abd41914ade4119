package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// PaymentRepo implements PaymentRepository using PostgreSQL.
type PaymentRepo struct{ db *DB }

// NewPaymentRepo constructs a payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, user_id, pack_id, credits, stripe_session_id, status, amount_total, currency, created_at, fulfilled_at`

// CreateAttempt inserts p in status created.
func (r *PaymentRepo) CreateAttempt(ctx context.Context, p *model.PurchaseAttempt) error {
	if p.ExternalRef == "" || p.Credits <= 0 {
		return fmt.Errorf("%w: purchase needs a session ref and positive credits", errs.ErrValidation)
	}
	const q = `
INSERT INTO payments (id, user_id, pack_id, credits, stripe_session_id, status, amount_total, currency)
VALUES ($1, $2, $3, $4, $5, 'created', $6, $7)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q,
		p.ID, p.AccountID, p.PackID, p.Credits, p.ExternalRef, p.AmountTotal, p.Currency).Scan(&p.CreatedAt)
	switch {
	case err == nil:
		p.Status = model.PurchaseCreated
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
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE stripe_session_id=$1`
	p, err := scanPayment(r.db.Pool.QueryRow(ctx, q, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return p, err
}

// Fulfill locks the attempt, credits the ledger with ref as external ref and marks it fulfilled.
func (r *PaymentRepo) Fulfill(
	ctx context.Context, ref string, amountTotal int64, currency string,
) (p *model.PurchaseAttempt, balance int64, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, 0, err
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

	sel := `SELECT ` + paymentColumns + ` FROM payments WHERE stripe_session_id=$1 FOR UPDATE`
	p, err = scanPayment(tx.QueryRow(ctx, sel, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, errs.ErrNotFound
		}
		return nil, 0, err
	}
	if err = fulfillable(p); err != nil {
		return p, 0, err
	}

	balance, _, err = creditTx(ctx, tx, model.LedgerEntry{
		AccountID:   p.AccountID,
		Delta:       p.Credits,
		Reason:      model.ReasonPurchase,
		ExternalRef: ref,
	})
	if err != nil {
		return nil, 0, err
	}

	const upd = `
UPDATE payments
SET status='fulfilled',
    fulfilled_at=now(),
    amount_total=CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE amount_total END,
    currency=COALESCE(NULLIF($3::text, ''), currency)
WHERE id=$1
RETURNING status, amount_total, currency, fulfilled_at`
	var (
		status      string
		fulfilledAt time.Time
	)
	if err = tx.QueryRow(ctx, upd, p.ID, amountTotal, currency).
		Scan(&status, &p.AmountTotal, &p.Currency, &fulfilledAt); err != nil {
		return nil, 0, err
	}
	p.Status = model.PurchaseStatus(status)
	p.FulfilledAt = &fulfilledAt
	return p, balance, nil
}

func fulfillable(p *model.PurchaseAttempt) error {
	if p.Status == model.PurchaseFulfilled {
		return errs.ErrDuplicatePurchaseEvent
	}
	if !p.Status.CanTransition(model.PurchaseFulfilled) {
		return fmt.Errorf("purchase %s is %s: %w", p.ExternalRef, p.Status, errs.ErrInvalidTransition)
	}
	return nil
}

// MarkStatus moves a created or paid attempt to canceled or failed.
func (r *PaymentRepo) MarkStatus(ctx context.Context, ref string, status model.PurchaseStatus) error {
	if status != model.PurchaseCanceled && status != model.PurchaseFailed {
		return fmt.Errorf("%w: cannot mark purchase %s", errs.ErrValidation, status)
	}
	const upd = `
UPDATE payments SET status=$2
WHERE stripe_session_id=$1 AND status IN ('created', 'paid')`
	tag, err := r.db.Pool.Exec(ctx, upd, ref, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := r.GetByRef(ctx, ref)
	if err != nil {
		return err
	}
	return statusMiss(cur, status)
}

func statusMiss(cur *model.PurchaseAttempt, to model.PurchaseStatus) error {
	if cur.Status == to {
		return errs.ErrDuplicatePurchaseEvent
	}
	return fmt.Errorf("purchase %s is %s: %w", cur.ExternalRef, cur.Status, errs.ErrInvalidTransition)
}

func scanPayment(row pgx.Row) (*model.PurchaseAttempt, error) {
	var (
		p      model.PurchaseAttempt
		status string
	)
	if err := row.Scan(&p.ID, &p.AccountID, &p.PackID, &p.Credits, &p.ExternalRef, &status,
		&p.AmountTotal, &p.Currency, &p.CreatedAt, &p.FulfilledAt); err != nil {
		return nil, err
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}
