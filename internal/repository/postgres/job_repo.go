package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

// JobRepo implements JobRepository using PostgreSQL.
type JobRepo struct{ db *DB }

// NewJobRepo constructs a job repository.
func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `id, user_id, guest_session_id, category, status, COALESCE(error_message, ''), created_at, started_at, completed_at`

const sqlInsertAsset = `
INSERT INTO generation_assets (id, generation_id, kind, bucket, object_key, content_type, bytes, sha256)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Create inserts a queued job and its input asset.
func (r *JobRepo) Create(ctx context.Context, j *model.Job, input model.Asset) (err error) {
	if err = j.Owner.Validate(); err != nil {
		return err
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	account, guest := j.Owner.Columns()
	const ins = `
INSERT INTO generations (id, user_id, guest_session_id, category, status)
VALUES ($1, $2, $3, $4, 'queued')
RETURNING created_at`
	if err = tx.QueryRow(ctx, ins, j.ID, account, guest, j.Category).Scan(&j.CreatedAt); err != nil {
		switch {
		case isForeignKeyViolation(err), isCheckViolation(err):
			return fmt.Errorf("job owner %s: %w", j.Owner, errs.ErrInvalidOwner)
		case isUniqueViolation(err):
			return errs.ErrAlreadyExists
		}
		return err
	}
	j.Status = model.JobQueued

	input.JobID = j.ID
	input.Kind = model.AssetInput
	if err = insertAsset(ctx, tx, input); err != nil {
		return err
	}
	return nil
}

func insertAsset(ctx context.Context, q querier, a model.Asset) error {
	_, err := q.Exec(ctx, sqlInsertAsset,
		a.ID, a.JobID, string(a.Kind), a.Bucket, a.ObjectKey, a.ContentType, a.ByteSize, a.SHA256)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s asset of job %s: %w", a.Kind, a.JobID, errs.ErrAlreadyExists)
	}
	return err
}

// Get returns a job by id.
func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM generations WHERE id=$1`
	j, err := scanJob(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrJobNotFound
	}
	return j, err
}

// Assets lists a job's assets, input first.
func (r *JobRepo) Assets(ctx context.Context, jobID uuid.UUID) ([]model.Asset, error) {
	const q = `
SELECT id, generation_id, kind, bucket, object_key, content_type, bytes, sha256, created_at
FROM generation_assets
WHERE generation_id=$1
ORDER BY kind ASC`
	return queryAssets(ctx, r.db.Pool, q, jobID)
}

func queryAssets(ctx context.Context, q querier, sql string, args ...any) ([]model.Asset, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Asset
	for rows.Next() {
		var (
			a    model.Asset
			kind string
		)
		if err = rows.Scan(&a.ID, &a.JobID, &kind, &a.Bucket, &a.ObjectKey,
			&a.ContentType, &a.ByteSize, &a.SHA256, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = model.AssetKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListByOwner pages through an owner's jobs newest first using a (created_at, id) keyset.
func (r *JobRepo) ListByOwner(ctx context.Context, owner model.Owner, limit int, after model.Cursor) ([]model.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	col := "user_id"
	if owner.Kind() == model.OwnerGuest {
		col = "guest_session_id"
	}

	q := `SELECT ` + jobColumns + ` FROM generations WHERE ` + col + `=$1`
	args := []any{owner.ID()}
	if !after.IsZero() {
		q += ` AND (created_at, id) < ($3, $4)`
		args = append(args, limit, after.CreatedAt, after.ID)
	} else {
		args = append(args, limit)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, q, args...)
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

// ClaimNext locks the oldest queued job, skipping rows other workers hold, and starts it.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, bool, error) {
	q := `
UPDATE generations SET status='processing', started_at=now()
WHERE id = (
  SELECT id FROM generations
  WHERE status='queued'
  ORDER BY created_at, id
  LIMIT 1
  FOR UPDATE SKIP LOCKED
) AND status='queued'
RETURNING ` + jobColumns
	j, err := scanJob(r.db.Pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

// Complete stores the output asset and finishes a processing job.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, output model.Asset) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	const upd = `
UPDATE generations SET status='completed', completed_at=now()
WHERE id=$1 AND status='processing'`
	tag, err := tx.Exec(ctx, upd, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return classifyMiss(ctx, tx, id, model.JobCompleted)
	}

	output.JobID = id
	output.Kind = model.AssetOutput
	return insertAsset(ctx, tx, output)
}

// Fail finishes a processing job with an error message.
func (r *JobRepo) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	const upd = `
UPDATE generations SET status='failed', error_message=$2, completed_at=now()
WHERE id=$1 AND status='processing'`
	tag, err := r.db.Pool.Exec(ctx, upd, id, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return classifyMiss(ctx, r.db.Pool, id, model.JobFailed)
	}
	return nil
}

// FailStale fails processing jobs started before startedBefore.
func (r *JobRepo) FailStale(ctx context.Context, startedBefore time.Time, msg string) (int64, error) {
	const upd = `
UPDATE generations SET status='failed', error_message=$2, completed_at=now()
WHERE status='processing' AND started_at < $1`
	tag, err := r.db.Pool.Exec(ctx, upd, startedBefore, msg)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// classifyMiss explains why a guarded status update touched no row.
func classifyMiss(ctx context.Context, q querier, id uuid.UUID, to model.JobStatus) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM generations WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return transitionError(model.JobStatus(status), to)
}

func transitionError(from, to model.JobStatus) error {
	if from.Terminal() {
		return fmt.Errorf("job is %s: %w", from, errs.ErrJobAlreadyTerminal)
	}
	return fmt.Errorf("%s -> %s: %w", from, to, errs.ErrInvalidTransition)
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j        model.Job
		account  uuid.NullUUID
		guest    uuid.NullUUID
		status   string
		started  *time.Time
		finished *time.Time
	)
	if err := row.Scan(&j.ID, &account, &guest, &j.Category, &status,
		&j.ErrorMessage, &j.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	owner, err := model.OwnerFromColumns(account, guest)
	if err != nil {
		return nil, err
	}
	j.Owner = owner
	j.Status = model.JobStatus(status)
	j.StartedAt = started
	j.CompletedAt = finished
	return &j, nil
}
