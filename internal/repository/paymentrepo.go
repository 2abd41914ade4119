package repository

import (
	"context"

	"github.com/and161185/picpaygo/internal/model"
)

// PaymentRepository tracks purchase attempts and fulfills them into the ledger.
type PaymentRepository interface {
	// CreateAttempt inserts an attempt in status created.
	CreateAttempt(ctx context.Context, p *model.PurchaseAttempt) error

	// GetByRef loads an attempt by provider session ref.
	GetByRef(ctx context.Context, ref string) (*model.PurchaseAttempt, error)

	// Fulfill credits the attempt's pack to its account and marks it fulfilled,
	// all in one transaction. Zero amountTotal / empty currency keep the recorded values.
	// Errors: errs.ErrNotFound, errs.ErrDuplicatePurchaseEvent, errs.ErrInvalidTransition.
	Fulfill(ctx context.Context, ref string, amountTotal int64, currency string) (*model.PurchaseAttempt, int64, error)

	// MarkStatus moves a non-terminal attempt to canceled or failed.
	MarkStatus(ctx context.Context, ref string, status model.PurchaseStatus) error
}
