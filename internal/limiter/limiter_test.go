package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var ipH = HashIP("10.0.0.1")

func newPG(t *testing.T, p Policy, now time.Time) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	l := NewPG(mock, p)
	l.now = func() time.Time { return now }
	return l, mock
}

func TestPG_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("no row", func(t *testing.T) {
		l, mock := newPG(t, DefaultPolicy(), now)
		mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).
			WithArgs("a@b.c", ipH).WillReturnError(pgx.ErrNoRows)
		ok, d, err := l.Allow(ctx, " A@B.c ", ipH)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, d)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked", func(t *testing.T) {
		l, mock := newPG(t, DefaultPolicy(), now)
		mock.ExpectQuery(`SELECT blocked_until`).WithArgs("a@b.c", ipH).
			WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(10 * time.Minute)))
		ok, d, err := l.Allow(ctx, "a@b.c", ipH)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 10*time.Minute, d)
	})

	t.Run("block expired", func(t *testing.T) {
		l, mock := newPG(t, DefaultPolicy(), now)
		mock.ExpectQuery(`SELECT blocked_until`).WithArgs("a@b.c", ipH).
			WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(-time.Minute)))
		ok, _, err := l.Allow(ctx, "a@b.c", ipH)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		l, mock := newPG(t, DefaultPolicy(), now)
		mock.ExpectQuery(`SELECT blocked_until`).WillReturnError(errors.New("boom"))
		ok, _, err := l.Allow(ctx, "a@b.c", ipH)
		require.Error(t, err)
		require.False(t, ok)
	})
}

func TestPG_Failure(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}
	ctx := context.Background()

	t.Run("below threshold", func(t *testing.T) {
		l, mock := newPG(t, p, now)
		mock.ExpectQuery(`RETURNING fail_count`).WithArgs("a@b.c", ipH, p.Window).
			WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
		blocked, d, err := l.Failure(ctx, "a@b.c", ipH)
		require.NoError(t, err)
		require.False(t, blocked)
		require.Zero(t, d)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("threshold blocks", func(t *testing.T) {
		l, mock := newPG(t, p, now)
		mock.ExpectQuery(`RETURNING fail_count`).WithArgs("a@b.c", ipH, p.Window).
			WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
		mock.ExpectExec(`UPDATE auth_limiter SET blocked_until`).
			WithArgs("a@b.c", ipH, now.Add(p.BlockFor)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		blocked, d, err := l.Failure(ctx, "a@b.c", ipH)
		require.NoError(t, err)
		require.True(t, blocked)
		require.Equal(t, p.BlockFor, d)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returning error", func(t *testing.T) {
		l, mock := newPG(t, p, now)
		mock.ExpectQuery(`RETURNING fail_count`).WillReturnError(errors.New("boom"))
		_, _, err := l.Failure(ctx, "a@b.c", ipH)
		require.Error(t, err)
	})
}

func TestPG_Success(t *testing.T) {
	l, mock := newPG(t, DefaultPolicy(), time.Now())
	mock.ExpectExec(`INSERT INTO auth_limiter`).WithArgs("a@b.c", ipH).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "a@b.c", ipH))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_BlocksAndResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: 5 * time.Minute})
	m.now = func() time.Time { return now }

	blocked, _, err := m.Failure(ctx, "a@b.c", ipH)
	require.NoError(t, err)
	require.False(t, blocked)

	blocked, d, err := m.Failure(ctx, "A@B.C", ipH)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, d)

	ok, _, err := m.Allow(ctx, "a@b.c", ipH)
	require.NoError(t, err)
	require.False(t, ok)

	ok, _, _ = m.Allow(ctx, "a@b.c", HashIP("10.0.0.2"))
	require.True(t, ok, "other address is independent")

	now = now.Add(6 * time.Minute)
	ok, _, _ = m.Allow(ctx, "a@b.c", ipH)
	require.True(t, ok)

	require.NoError(t, m.Success(ctx, "a@b.c", ipH))
	blocked, _, _ = m.Failure(ctx, "a@b.c", ipH)
	require.False(t, blocked, "counter restarted")
}

func TestMemory_WindowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	m.now = func() time.Time { return now }

	_, _, _ = m.Failure(ctx, "a@b.c", ipH)
	now = now.Add(2 * time.Minute)
	blocked, _, _ := m.Failure(ctx, "a@b.c", ipH)
	require.False(t, blocked)
}

func TestHashIP(t *testing.T) {
	require.Len(t, HashIP("1.2.3.4"), 32)
	require.Equal(t, HashIP("1.2.3.4"), HashIP("1.2.3.4"))
	require.NotEqual(t, HashIP("1.2.3.4"), HashIP("5.6.7.8"))
}
