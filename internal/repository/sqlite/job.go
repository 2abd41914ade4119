package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// JobRepo implements JobRepository on SQLite.
type JobRepo struct{ db *DB }

// NewJobRepo constructs a job repository.
func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `id, user_id, guest_session_id, category, status, COALESCE(error_message, ''), created_at, started_at, completed_at`

const assetColumns = `id, generation_id, kind, bucket, object_key, content_type, bytes, sha256, created_at`

// Create inserts a queued job and its input asset.
func (r *JobRepo) Create(ctx context.Context, j *model.Job, input model.Asset) error {
	if err := j.Owner.Validate(); err != nil {
		return err
	}
	now := r.db.stamp()
	account, guest := j.Owner.Columns()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		const ins = `
INSERT INTO generations (id, user_id, guest_session_id, category, status, created_at)
VALUES (?, ?, ?, ?, 'queued', ?)`
		if _, err := tx.ExecContext(ctx, ins, j.ID, account, guest, j.Category, now); err != nil {
			switch {
			case isForeignKeyViolation(err), isCheckViolation(err):
				return fmt.Errorf("job owner %s: %w", j.Owner, errs.ErrInvalidOwner)
			case isUniqueViolation(err):
				return errs.ErrAlreadyExists
			}
			return err
		}
		input.JobID = j.ID
		input.Kind = model.AssetInput
		return insertAsset(ctx, tx, input, now)
	})
	if err != nil {
		return err
	}
	j.Status = model.JobQueued
	j.CreatedAt = fromNanos(now)
	return nil
}

func insertAsset(ctx context.Context, q execQuerier, a model.Asset, now int64) error {
	const ins = `
INSERT INTO generation_assets (id, generation_id, kind, bucket, object_key, content_type, bytes, sha256, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, ins,
		a.ID, a.JobID, string(a.Kind), a.Bucket, a.ObjectKey, a.ContentType, a.ByteSize, a.SHA256, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s asset of job %s: %w", a.Kind, a.JobID, errs.ErrAlreadyExists)
	}
	return err
}

// Get returns a job by id.
func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	j, err := scanJob(r.db.SQL.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generations WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrJobNotFound
	}
	return j, err
}

// Assets lists a job's assets, input first.
func (r *JobRepo) Assets(ctx context.Context, jobID uuid.UUID) ([]model.Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM generation_assets WHERE generation_id=? ORDER BY kind ASC`
	return queryAssets(ctx, r.db.SQL, q, jobID)
}

func queryAssets(ctx context.Context, q execQuerier, query string, args ...any) ([]model.Asset, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Asset
	for rows.Next() {
		var (
			a       model.Asset
			kind    string
			created int64
		)
		if err = rows.Scan(&a.ID, &a.JobID, &kind, &a.Bucket, &a.ObjectKey,
			&a.ContentType, &a.ByteSize, &a.SHA256, &created); err != nil {
			return nil, err
		}
		a.Kind = model.AssetKind(kind)
		a.CreatedAt = fromNanos(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListByOwner pages through an owner's jobs newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, owner model.Owner, limit int, after model.Cursor) ([]model.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	col := "user_id"
	if owner.Kind() == model.OwnerGuest {
		col = "guest_session_id"
	}
	q := `SELECT ` + jobColumns + ` FROM generations WHERE ` + col + `=?`
	args := []any{owner.ID()}
	if !after.IsZero() {
		q += ` AND (created_at, id) < (?, ?)`
		args = append(args, after.CreatedAt.UnixNano(), after.ID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimNext starts the oldest queued job. The immediate write transaction
// makes the select-and-update pair exclusive.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, bool, error) {
	var j *model.Job
	now := r.db.stamp()
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		q := `
UPDATE generations SET status='processing', started_at=?
WHERE id = (SELECT id FROM generations WHERE status='queued' ORDER BY created_at, id LIMIT 1)
  AND status='queued'
RETURNING ` + jobColumns
		var err error
		j, err = scanJob(tx.QueryRowContext(ctx, q, now))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

// Complete stores the output asset and finishes a processing job.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, output model.Asset) error {
	now := r.db.stamp()
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		const upd = `UPDATE generations SET status='completed', completed_at=? WHERE id=? AND status='processing'`
		res, err := tx.ExecContext(ctx, upd, now, id)
		if err != nil {
			return err
		}
		if rowsAffected(res) == 0 {
			return classifyMiss(ctx, tx, id, model.JobCompleted)
		}
		output.JobID = id
		output.Kind = model.AssetOutput
		return insertAsset(ctx, tx, output, now)
	})
}

// Fail finishes a processing job with an error message.
func (r *JobRepo) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	const upd = `
UPDATE generations SET status='failed', error_message=?, completed_at=?
WHERE id=? AND status='processing'`
	res, err := r.db.SQL.ExecContext(ctx, upd, msg, r.db.stamp(), id)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return classifyMiss(ctx, r.db.SQL, id, model.JobFailed)
	}
	return nil
}

// FailStale fails processing jobs started before startedBefore.
func (r *JobRepo) FailStale(ctx context.Context, startedBefore time.Time, msg string) (int64, error) {
	const upd = `
UPDATE generations SET status='failed', error_message=?, completed_at=?
WHERE status='processing' AND started_at < ?`
	res, err := r.db.SQL.ExecContext(ctx, upd, msg, r.db.stamp(), startedBefore.UnixNano())
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func classifyMiss(ctx context.Context, q execQuerier, id uuid.UUID, to model.JobStatus) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM generations WHERE id=?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	from := model.JobStatus(status)
	if from.Terminal() {
		return fmt.Errorf("job is %s: %w", from, errs.ErrJobAlreadyTerminal)
	}
	return fmt.Errorf("%s -> %s: %w", from, to, errs.ErrInvalidTransition)
}

type scanner interface{ Scan(dest ...any) error }

func scanJob(row scanner) (*model.Job, error) {
	var (
		j        model.Job
		account  uuid.NullUUID
		guest    uuid.NullUUID
		status   string
		created  int64
		started  sql.NullInt64
		finished sql.NullInt64
	)
	if err := row.Scan(&j.ID, &account, &guest, &j.Category, &status,
		&j.ErrorMessage, &created, &started, &finished); err != nil {
		return nil, err
	}
	owner, err := model.OwnerFromColumns(account, guest)
	if err != nil {
		return nil, err
	}
	j.Owner = owner
	j.Status = model.JobStatus(status)
	j.CreatedAt = fromNanos(created)
	j.StartedAt = fromNullNanos(started)
	j.CompletedAt = fromNullNanos(finished)
	return &j, nil
}
