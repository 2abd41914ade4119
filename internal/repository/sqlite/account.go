package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// AccountRepo implements AccountRepository on SQLite.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts the account and its zero balance.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	now := r.db.stamp()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		const ins = `INSERT INTO users (id, email, pwd_hash, salt_auth, created_at) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, ins, a.ID, a.Email, a.PwdHash, a.SaltAuth, now); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			return err
		}
		const bal = `INSERT INTO credits (user_id, balance, updated_at) VALUES (?, 0, ?)`
		_, err := tx.ExecContext(ctx, bal, a.ID, now)
		return err
	})
	if err != nil {
		return err
	}
	a.CreatedAt = fromNanos(now)
	return nil
}

// GetByID loads an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT id, email, pwd_hash, salt_auth, created_at FROM users WHERE id=?`
	return scanAccount(r.db.SQL.QueryRowContext(ctx, q, id))
}

// GetByEmail loads an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `SELECT id, email, pwd_hash, salt_auth, created_at FROM users WHERE email=?`
	return scanAccount(r.db.SQL.QueryRowContext(ctx, q, email))
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var (
		a       model.Account
		created int64
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PwdHash, &a.SaltAuth, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	a.CreatedAt = fromNanos(created)
	return &a, nil
}
