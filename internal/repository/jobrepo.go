package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/model"
)

// JobRepository persists generation jobs and their assets.
// Status changes are conditional updates; only forward transitions succeed.
type JobRepository interface {
	// Create inserts a queued job and its input asset in one transaction.
	Create(ctx context.Context, j *model.Job, input model.Asset) error

	// Get returns a job by id or errs.ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// Assets lists the assets recorded for a job.
	Assets(ctx context.Context, jobID uuid.UUID) ([]model.Asset, error)

	// ListByOwner returns up to limit jobs older than after, newest first.
	ListByOwner(ctx context.Context, owner model.Owner, limit int, after model.Cursor) ([]model.Job, error)

	// ClaimNext moves the oldest queued job to processing. ok is false when the queue is empty.
	// A job is never handed to two callers.
	ClaimNext(ctx context.Context) (j *model.Job, ok bool, err error)

	// Complete records the output asset and moves a processing job to completed.
	Complete(ctx context.Context, id uuid.UUID, output model.Asset) error

	// Fail moves a processing job to failed with msg.
	Fail(ctx context.Context, id uuid.UUID, msg string) error

	// FailStale fails jobs that entered processing before startedBefore.
	FailStale(ctx context.Context, startedBefore time.Time, msg string) (int64, error)
}
