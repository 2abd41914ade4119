package sqlite

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

func TestAccountRepo_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	r := NewAccountRepo(db)
	ctx := context.Background()
	a := &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "a@example.com", PwdHash: []byte("h"), SaltAuth: []byte("s")}

	require.NoError(t, r.Create(ctx, a))
	require.False(t, a.CreatedAt.IsZero())

	dup := *a
	dup.ID = uuid.Must(uuid.NewV4())
	require.ErrorIs(t, r.Create(ctx, &dup), errs.ErrAlreadyExists)

	got, err := r.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, []byte("h"), got.PwdHash)

	_, err = r.GetByID(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	bal, err := NewCreditRepo(db).Balance(ctx, "", a.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Purchased)
}
