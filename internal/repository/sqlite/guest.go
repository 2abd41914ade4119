package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/repository"
)

// GuestRepo implements GuestRepository on SQLite.
type GuestRepo struct{ db *DB }

// NewGuestRepo constructs a guest session repository.
func NewGuestRepo(db *DB) *GuestRepo { return &GuestRepo{db: db} }

// Resolve upserts the session for tokenHash.
func (r *GuestRepo) Resolve(ctx context.Context, tokenHash string) (*model.GuestSession, bool, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	now := r.db.stamp()
	const q = `
INSERT INTO guest_sessions (id, token_hash, created_at, last_seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (token_hash) DO UPDATE SET last_seen_at = excluded.last_seen_at
RETURNING id, token_hash, created_at, last_seen_at`
	s, err := scanGuest(r.db.SQL.QueryRowContext(ctx, q, id, tokenHash, now, now))
	if err != nil {
		return nil, false, err
	}
	return s, s.ID == id, nil
}

// Rotate replaces the token hash and deletes the session's generations.
func (r *GuestRepo) Rotate(ctx context.Context, oldHash, newHash string) (*model.GuestSession, repository.Purge, error) {
	var (
		out *model.GuestSession
		p   repository.Purge
	)
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT id FROM guest_sessions WHERE token_hash=?`, oldHash).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}

		q := `SELECT ` + assetColumns + ` FROM generation_assets
WHERE generation_id IN (SELECT id FROM generations WHERE guest_session_id=?)`
		if p.Assets, err = queryAssets(ctx, tx, q, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE guest_session_id=?`, id)
		if err != nil {
			return err
		}
		p.Jobs = rowsAffected(res)

		const upd = `
UPDATE guest_sessions SET token_hash=?, last_seen_at=?
WHERE id=?
RETURNING id, token_hash, created_at, last_seen_at`
		out, err = scanGuest(tx.QueryRowContext(ctx, upd, newHash, r.db.stamp(), id))
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		p.Sessions = 1
		return err
	})
	if err != nil {
		return nil, repository.Purge{}, err
	}
	return out, p, nil
}

// DeleteStale removes sessions idle since before with their generations.
func (r *GuestRepo) DeleteStale(ctx context.Context, before time.Time) (repository.Purge, error) {
	var p repository.Purge
	cutoff := before.UnixNano()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		const stale = `SELECT id FROM guest_sessions WHERE last_seen_at < ?`
		q := `SELECT ` + assetColumns + ` FROM generation_assets
WHERE generation_id IN (SELECT id FROM generations WHERE guest_session_id IN (` + stale + `))`
		var err error
		if p.Assets, err = queryAssets(ctx, tx, q, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE guest_session_id IN (`+stale+`)`, cutoff)
		if err != nil {
			return err
		}
		p.Jobs = rowsAffected(res)
		if res, err = tx.ExecContext(ctx, `DELETE FROM guest_sessions WHERE last_seen_at < ?`, cutoff); err != nil {
			return err
		}
		p.Sessions = rowsAffected(res)
		return nil
	})
	if err != nil {
		return repository.Purge{}, err
	}
	return p, nil
}

func scanGuest(row *sql.Row) (*model.GuestSession, error) {
	var (
		s             model.GuestSession
		created, seen int64
	)
	if err := row.Scan(&s.ID, &s.TokenHash, &created, &seen); err != nil {
		return nil, err
	}
	s.CreatedAt = fromNanos(created)
	s.LastSeenAt = fromNanos(seen)
	return &s, nil
}
