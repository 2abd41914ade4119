package sqlite

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

func newAttempt(t *testing.T, db *DB, ref string, credits int64) *model.PurchaseAttempt {
	t.Helper()
	p := &model.PurchaseAttempt{
		ID: uuid.Must(uuid.NewV4()), AccountID: newAccount(t, db), PackID: "pack_3_10",
		Credits: credits, ExternalRef: ref, AmountTotal: 300, Currency: "usd",
	}
	require.NoError(t, NewPaymentRepo(db).CreateAttempt(context.Background(), p))
	return p
}

func TestPaymentRepo_FulfillExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	r := NewPaymentRepo(db)
	ctx := context.Background()
	p := newAttempt(t, db, "cs_once", 10)

	got, bal, err := r.Fulfill(ctx, "cs_once", 0, "")
	require.NoError(t, err)
	require.Equal(t, int64(10), bal)
	require.Equal(t, model.PurchaseFulfilled, got.Status)
	require.Equal(t, int64(300), got.AmountTotal)
	require.NotNil(t, got.FulfilledAt)

	_, _, err = r.Fulfill(ctx, "cs_once", 0, "")
	require.ErrorIs(t, err, errs.ErrDuplicatePurchaseEvent)

	entries, err := NewCreditRepo(db).Entries(ctx, p.AccountID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "cs_once", entries[0].ExternalRef)

	c, err := NewCreditRepo(db).Balance(ctx, "", p.AccountID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), c.Purchased)
}

func TestPaymentRepo_FulfillRejections(t *testing.T) {
	db := newTestDB(t)
	r := NewPaymentRepo(db)
	ctx := context.Background()

	_, _, err := r.Fulfill(ctx, "cs_missing", 0, "")
	require.ErrorIs(t, err, errs.ErrNotFound)

	newAttempt(t, db, "cs_cancel", 5)
	require.NoError(t, r.MarkStatus(ctx, "cs_cancel", model.PurchaseCanceled))
	require.ErrorIs(t, r.MarkStatus(ctx, "cs_cancel", model.PurchaseCanceled), errs.ErrDuplicatePurchaseEvent)

	_, _, err = r.Fulfill(ctx, "cs_cancel", 0, "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestPaymentRepo_CreateAttemptDuplicateRef(t *testing.T) {
	db := newTestDB(t)
	p := newAttempt(t, db, "cs_dup", 5)

	again := *p
	again.ID = uuid.Must(uuid.NewV4())
	require.ErrorIs(t, NewPaymentRepo(db).CreateAttempt(context.Background(), &again), errs.ErrAlreadyExists)
}
