package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/observability"
	"github.com/and161185/picpaygo/internal/repository"
)

const maxHistory = 200

// Ledger is the credit authority: free credits per network address and
// purchased credits per account. Guests never hold purchased credits.
type Ledger struct {
	credits     repository.CreditRepository
	freeDefault int64
	log         *zap.Logger
}

// NewLedger constructs a Ledger. freeDefault seeds the free pool of unseen addresses.
func NewLedger(credits repository.CreditRepository, freeDefault int64, log *zap.Logger) *Ledger {
	return &Ledger{credits: credits, freeDefault: freeDefault, log: log}
}

// Balance returns the combined balance visible to id.
func (l *Ledger) Balance(ctx context.Context, id model.Identity) (model.Credits, error) {
	if err := id.Owner.Validate(); err != nil {
		return model.Credits{}, err
	}
	account, _ := id.Owner.AccountID()
	return l.credits.Balance(ctx, id.IP, account, l.freeDefault)
}

// Consume deducts amount for jobID, free credits first. Nothing changes on
// errs.ErrInsufficientCredits.
func (l *Ledger) Consume(ctx context.Context, id model.Identity, amount int64, jobID uuid.UUID) (model.Consumption, error) {
	if err := id.Owner.Validate(); err != nil {
		return model.Consumption{}, err
	}
	if amount <= 0 {
		return model.Consumption{}, fmt.Errorf("%w: amount must be positive", errs.ErrValidation)
	}
	account, _ := id.Owner.AccountID()
	c, err := l.credits.Consume(ctx, id.IP, account, amount, l.freeDefault, jobID)
	if errors.Is(err, errs.ErrInsufficientCredits) {
		observability.InsufficientCredits.Inc()
		return model.Consumption{}, err
	}
	if err != nil {
		return model.Consumption{}, fmt.Errorf("consume: %w", err)
	}
	if c.FreeUsed > 0 {
		observability.CreditsConsumed.WithLabelValues("free").Add(float64(c.FreeUsed))
	}
	if c.PurchasedUsed > 0 {
		observability.CreditsConsumed.WithLabelValues("purchased").Add(float64(c.PurchasedUsed))
	}
	return c, nil
}

// Credit appends a ledger entry for accountID and returns the new balance.
// A repeated externalRef is a no-op returning the current balance.
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason model.Reason, externalRef string) (int64, error) {
	return l.apply(ctx, model.LedgerEntry{
		AccountID:   accountID,
		Delta:       amount,
		Reason:      reason,
		ExternalRef: externalRef,
	})
}

// Refund returns amount purchased credits spent on jobID. A job is refunded at most once.
func (l *Ledger) Refund(ctx context.Context, accountID uuid.UUID, amount int64, jobID uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: refund must be positive", errs.ErrValidation)
	}
	return l.apply(ctx, model.LedgerEntry{
		AccountID: accountID,
		Delta:     amount,
		Reason:    model.ReasonRefund,
		JobID:     jobID,
	})
}

func (l *Ledger) apply(ctx context.Context, e model.LedgerEntry) (int64, error) {
	bal, applied, err := l.credits.Credit(ctx, e)
	if err != nil {
		return 0, err
	}
	if !applied {
		l.log.Info("ledger entry already applied",
			zap.String("account_id", e.AccountID.String()),
			zap.String("reason", string(e.Reason)),
			zap.String("external_ref", e.ExternalRef),
			zap.String("job_id", e.JobID.String()),
		)
		return bal, nil
	}
	if e.Delta > 0 {
		observability.CreditsGranted.WithLabelValues(string(e.Reason)).Add(float64(e.Delta))
	}
	return bal, nil
}

// History returns the newest ledger entries of an account.
func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	if accountID == uuid.Nil {
		return nil, errs.ErrInvalidOwner
	}
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	return l.credits.Entries(ctx, accountID, limit)
}

// ResetFree sets the free pool of ip, the only way free credits increase.
func (l *Ledger) ResetFree(ctx context.Context, ip string, remaining int64) error {
	if ip == "" || remaining < 0 {
		return fmt.Errorf("%w: reset needs an address and remaining >= 0", errs.ErrValidation)
	}
	return l.credits.ResetFree(ctx, ip, remaining)
}
