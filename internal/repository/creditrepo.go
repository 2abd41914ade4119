package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/model"
)

// CreditRepository owns the free-credit pool per network address and the
// purchased balance plus ledger per account.
//
// An empty ip means the caller has no free pool; uuid.Nil as account means
// the caller holds no purchased credits (guests).
type CreditRepository interface {
	// Balance returns both pools, creating the ip row with freeDefault on first sight.
	Balance(ctx context.Context, ip string, accountID uuid.UUID, freeDefault int64) (model.Credits, error)

	// Consume atomically deducts amount, free pool first. It returns
	// errs.ErrInsufficientCredits and changes nothing when both pools together fall short.
	// jobID is recorded on the consumption ledger entry when non-nil.
	Consume(ctx context.Context, ip string, accountID uuid.UUID, amount, freeDefault int64, jobID uuid.UUID) (model.Consumption, error)

	// Credit appends a ledger entry and moves the cached balance in one transaction.
	// A repeated ExternalRef, or a second refund for the same job, is a no-op
	// reported with applied=false and the current balance.
	Credit(ctx context.Context, e model.LedgerEntry) (balance int64, applied bool, err error)

	// Entries returns the newest ledger entries of an account.
	Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]model.LedgerEntry, error)

	// ResetFree overwrites the free pool of an address.
	ResetFree(ctx context.Context, ip string, remaining int64) error
}
