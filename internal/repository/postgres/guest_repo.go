package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/repository"
)

// GuestRepo implements GuestRepository using PostgreSQL.
type GuestRepo struct{ db *DB }

// NewGuestRepo constructs a guest session repository.
func NewGuestRepo(db *DB) *GuestRepo { return &GuestRepo{db: db} }

const assetColumns = `a.id, a.generation_id, a.kind, a.bucket, a.object_key, a.content_type, a.bytes, a.sha256, a.created_at`

// Resolve upserts the session for tokenHash.
func (r *GuestRepo) Resolve(ctx context.Context, tokenHash string) (*model.GuestSession, bool, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	const q = `
INSERT INTO guest_sessions (id, token_hash)
VALUES ($1, $2)
ON CONFLICT (token_hash) DO UPDATE SET last_seen_at = now()
RETURNING id, token_hash, created_at, last_seen_at`
	var s model.GuestSession
	if err = r.db.Pool.QueryRow(ctx, q, id, tokenHash).Scan(&s.ID, &s.TokenHash, &s.CreatedAt, &s.LastSeenAt); err != nil {
		return nil, false, err
	}
	return &s, s.ID == id, nil
}

// Rotate replaces the token hash and deletes the session's generations.
func (r *GuestRepo) Rotate(ctx context.Context, oldHash, newHash string) (s *model.GuestSession, p repository.Purge, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, repository.Purge{}, err
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

	const sel = `SELECT id FROM guest_sessions WHERE token_hash=$1 FOR UPDATE`
	var id uuid.UUID
	if err = tx.QueryRow(ctx, sel, oldHash).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.Purge{}, errs.ErrNotFound
		}
		return nil, repository.Purge{}, err
	}

	assetsQ := `
SELECT ` + assetColumns + `
FROM generation_assets a JOIN generations g ON g.id = a.generation_id
WHERE g.guest_session_id=$1`
	if p.Assets, err = queryAssets(ctx, tx, assetsQ, id); err != nil {
		return nil, repository.Purge{}, err
	}

	const del = `DELETE FROM generations WHERE guest_session_id=$1`
	tag, err := tx.Exec(ctx, del, id)
	if err != nil {
		return nil, repository.Purge{}, err
	}
	p.Jobs = tag.RowsAffected()

	const upd = `
UPDATE guest_sessions SET token_hash=$2, last_seen_at=now()
WHERE id=$1
RETURNING id, token_hash, created_at, last_seen_at`
	var out model.GuestSession
	if err = tx.QueryRow(ctx, upd, id, newHash).Scan(&out.ID, &out.TokenHash, &out.CreatedAt, &out.LastSeenAt); err != nil {
		if isUniqueViolation(err) {
			return nil, repository.Purge{}, errs.ErrAlreadyExists
		}
		return nil, repository.Purge{}, err
	}
	p.Sessions = 1
	return &out, p, nil
}

// DeleteStale removes sessions idle since before; their generations cascade.
func (r *GuestRepo) DeleteStale(ctx context.Context, before time.Time) (p repository.Purge, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.Purge{}, err
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

	assetsQ := `
SELECT ` + assetColumns + `
FROM generation_assets a
JOIN generations g ON g.id = a.generation_id
JOIN guest_sessions s ON s.id = g.guest_session_id
WHERE s.last_seen_at < $1`
	if p.Assets, err = queryAssets(ctx, tx, assetsQ, before); err != nil {
		return repository.Purge{}, err
	}

	const jobs = `
DELETE FROM generations
WHERE guest_session_id IN (SELECT id FROM guest_sessions WHERE last_seen_at < $1)`
	tag, err := tx.Exec(ctx, jobs, before)
	if err != nil {
		return repository.Purge{}, err
	}
	p.Jobs = tag.RowsAffected()

	const del = `DELETE FROM guest_sessions WHERE last_seen_at < $1`
	if tag, err = tx.Exec(ctx, del, before); err != nil {
		return repository.Purge{}, err
	}
	p.Sessions = tag.RowsAffected()
	return p, nil
}
