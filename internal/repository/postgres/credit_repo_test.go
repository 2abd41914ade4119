package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

const (
	reEnsureIP      = `INSERT INTO ip_credits \(ip_address, free_remaining\) VALUES \(\$1, \$2\) ON CONFLICT \(ip_address\) DO NOTHING`
	reLockIP        = `SELECT free_remaining FROM ip_credits WHERE ip_address=\$1 FOR UPDATE`
	reLockBalance   = `SELECT balance FROM credits WHERE user_id=\$1 FOR UPDATE`
	reTakeFree      = `UPDATE ip_credits SET free_remaining = free_remaining - \$2`
	reTakePurchased = `UPDATE credits SET balance = balance - \$2`
	reInsertEntry   = `INSERT INTO credit_ledger \(user_id, delta, reason, stripe_session_id, generation_id\)`
	reEnsureBalance = `INSERT INTO credits \(user_id, balance\) VALUES \(\$1, 0\) ON CONFLICT`
	reMoveBalance   = `UPDATE credits SET balance = balance \+ \$2`
	reReadBalance   = `SELECT balance FROM credits WHERE user_id=\$1`
)

func TestCreditRepo_Balance_GuestHasNoPurchased(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)

	mock.ExpectQuery(`INSERT INTO ip_credits .* DO UPDATE SET last_seen_at = now\(\) RETURNING free_remaining`).
		WithArgs("10.0.0.1", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"free_remaining"}).AddRow(int64(1)))

	c, err := r.Balance(context.Background(), "10.0.0.1", uuid.Nil, 1)
	require.NoError(t, err)
	require.Equal(t, model.Credits{Free: 1}, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Consume_FreeOnly(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	ip := "10.0.0.1"

	mock.ExpectBegin()
	mock.ExpectExec(reEnsureIP).WithArgs(ip, int64(1)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(reLockIP).WithArgs(ip).
		WillReturnRows(pgxmock.NewRows([]string{"free_remaining"}).AddRow(int64(1)))
	mock.ExpectExec(reTakeFree).WithArgs(ip, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := r.Consume(context.Background(), ip, uuid.Nil, 1, 1, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Free)
	require.Equal(t, int64(1), res.FreeUsed)
	require.Equal(t, int64(0), res.PurchasedUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Consume_FreeThenPurchased(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	ip := "10.0.0.2"
	acct := uuid.Must(uuid.NewV4())
	job := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(reEnsureIP).WithArgs(ip, int64(1)).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(reLockIP).WithArgs(ip).
		WillReturnRows(pgxmock.NewRows([]string{"free_remaining"}).AddRow(int64(1)))
	mock.ExpectQuery(reLockBalance).WithArgs(acct).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5)))
	mock.ExpectExec(reTakeFree).WithArgs(ip, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(reTakePurchased).WithArgs(acct, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(reInsertEntry).
		WithArgs(acct, int64(-1), "consumption", nil, uuid.NullUUID{UUID: job, Valid: true}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := r.Consume(context.Background(), ip, acct, 2, 1, job)
	require.NoError(t, err)
	require.Equal(t, model.Credits{Free: 0, Purchased: 4}, res.Credits)
	require.Equal(t, int64(1), res.FreeUsed)
	require.Equal(t, int64(1), res.PurchasedUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Consume_InsufficientChangesNothing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(reLockBalance).WithArgs(acct).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(2)))
	mock.ExpectRollback()

	_, err := r.Consume(context.Background(), "", acct, 3, 1, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrInsufficientCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Consume_ConditionalUpdateMiss(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(reLockBalance).WithArgs(acct).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(1)))
	mock.ExpectExec(reTakePurchased).WithArgs(acct, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := r.Consume(context.Background(), "", acct, 1, 1, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrInsufficientCredits)
}

func TestCreditRepo_Consume_RejectsNonPositive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	_, err := NewCreditRepo(db).Consume(context.Background(), "ip", uuid.Nil, 0, 1, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreditRepo_Credit_AppliedThenDuplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())
	ref := "cs_test_1"
	entry := model.LedgerEntry{AccountID: acct, Delta: 10, Reason: model.ReasonPurchase, ExternalRef: ref}

	mock.ExpectBegin()
	mock.ExpectExec(reInsertEntry).
		WithArgs(acct, int64(10), "purchase", &ref, uuid.NullUUID{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(reEnsureBalance).WithArgs(acct).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(reMoveBalance).WithArgs(acct, int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(12)))
	mock.ExpectCommit()

	bal, applied, err := r.Credit(context.Background(), entry)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, int64(12), bal)

	mock.ExpectBegin()
	mock.ExpectExec(reInsertEntry).
		WithArgs(acct, int64(10), "purchase", &ref, uuid.NullUUID{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(reReadBalance).WithArgs(acct).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(12)))
	mock.ExpectCommit()

	bal, applied, err = r.Credit(context.Background(), entry)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, int64(12), bal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Credit_NegativeAdjustmentHitsCheck(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(reInsertEntry).
		WithArgs(acct, int64(-5), "adjustment", (*string)(nil), uuid.NullUUID{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(reEnsureBalance).WithArgs(acct).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(reMoveBalance).WithArgs(acct, int64(-5)).
		WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	_, _, err := r.Credit(context.Background(), model.LedgerEntry{AccountID: acct, Delta: -5, Reason: model.ReasonAdjustment})
	require.ErrorIs(t, err, errs.ErrInsufficientCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Credit_Validation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())

	cases := []struct {
		name string
		e    model.LedgerEntry
		want error
	}{
		{"no account", model.LedgerEntry{Delta: 1, Reason: model.ReasonBonus}, errs.ErrInvalidOwner},
		{"zero delta", model.LedgerEntry{AccountID: acct, Reason: model.ReasonBonus}, errs.ErrValidation},
		{"bad reason", model.LedgerEntry{AccountID: acct, Delta: 1, Reason: "gift"}, errs.ErrValidation},
		{"refund without job", model.LedgerEntry{AccountID: acct, Delta: 1, Reason: model.ReasonRefund}, errs.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock.ExpectBegin()
			mock.ExpectRollback()
			_, _, err := r.Credit(context.Background(), tc.e)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreditRepo_Credit_UnknownAccount(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	acct := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(reInsertEntry).
		WithArgs(acct, int64(1), "bonus", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	_, _, err := NewCreditRepo(db).Credit(context.Background(),
		model.LedgerEntry{AccountID: acct, Delta: 1, Reason: model.ReasonBonus})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepo_Entries(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)
	acct := uuid.Must(uuid.NewV4())
	job := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "user_id", "delta", "reason", "ref", "generation_id", "created_at"}).
		AddRow(int64(2), acct, int64(1), "refund", "", job, ts).
		AddRow(int64(1), acct, int64(5), "purchase", "cs_1", nil, ts)
	mock.ExpectQuery(`FROM credit_ledger WHERE user_id=\$1 ORDER BY id DESC LIMIT \$2`).
		WithArgs(acct, 20).
		WillReturnRows(rows)

	out, err := r.Entries(context.Background(), acct, 20)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, model.ReasonRefund, out[0].Reason)
	require.Equal(t, job, out[0].JobID)
	require.Equal(t, "cs_1", out[1].ExternalRef)
	require.Equal(t, uuid.Nil, out[1].JobID)
}

func TestCreditRepo_ResetFree(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCreditRepo(db)

	mock.ExpectExec(`DO UPDATE SET free_remaining = EXCLUDED.free_remaining`).
		WithArgs("10.0.0.9", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.ResetFree(context.Background(), "10.0.0.9", 3))

	require.ErrorIs(t, r.ResetFree(context.Background(), "", 3), errs.ErrValidation)
}

func TestCreditRepo_Balance_AccountWithoutRow(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	acct := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(reReadBalance).WithArgs(acct).WillReturnError(pgx.ErrNoRows)
	c, err := NewCreditRepo(db).Balance(context.Background(), "", acct, 1)
	require.NoError(t, err)
	require.Equal(t, model.Credits{}, c)
}
