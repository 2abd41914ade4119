package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/observability"
	"github.com/and161185/picpaygo/internal/storage"
)

// MaxImageBytes bounds an uploaded reference image.
const MaxImageBytes = 20 << 20

// creditsPerJob is the price of one generation.
const creditsPerJob = 1

// Notifier wakes the worker pool after a job is queued.
type Notifier interface{ Notify() }

// SubmitRequest is a generation request from a resolved caller.
type SubmitRequest struct {
	Category    string
	Image       []byte
	ContentType string
}

// Generation charges a caller and queues a job for the worker pool.
type Generation struct {
	ledger    *Ledger
	jobs      *JobManager
	objects   storage.ObjectStore
	rawBucket string
	notify    Notifier
	log       *zap.Logger
}

// NewGeneration wires the submit path. notify may be nil.
func NewGeneration(ledger *Ledger, jobs *JobManager, objects storage.ObjectStore, rawBucket string, notify Notifier, log *zap.Logger) *Generation {
	return &Generation{ledger: ledger, jobs: jobs, objects: objects, rawBucket: rawBucket, notify: notify, log: log}
}

// Submit validates the request, consumes one credit, stores the input image and
// queues the job. When anything after the charge fails, purchased credits spent
// are refunded but a spent free credit is not restored: the free balance only
// rises through ResetFree, so the caller loses that free attempt.
func (g *Generation) Submit(ctx context.Context, id model.Identity, req SubmitRequest) (*model.Job, model.Consumption, error) {
	if err := id.Owner.Validate(); err != nil {
		return nil, model.Consumption{}, err
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if !g.jobs.Accepts(category) {
		return nil, model.Consumption{}, fmt.Errorf("%w: unsupported category %q", errs.ErrValidation, req.Category)
	}
	if !strings.HasPrefix(req.ContentType, "image/") {
		return nil, model.Consumption{}, fmt.Errorf("%w: unsupported file type %q", errs.ErrValidation, req.ContentType)
	}
	switch {
	case len(req.Image) == 0:
		return nil, model.Consumption{}, fmt.Errorf("%w: empty image upload", errs.ErrValidation)
	case len(req.Image) > MaxImageBytes:
		return nil, model.Consumption{}, fmt.Errorf("%w: image exceeds %d bytes", errs.ErrValidation, MaxImageBytes)
	}

	jobID, err := uuid.NewV4()
	if err != nil {
		return nil, model.Consumption{}, err
	}
	spent, err := g.ledger.Consume(ctx, id, creditsPerJob, jobID)
	if err != nil {
		return nil, model.Consumption{}, err
	}

	loc, err := g.objects.Put(ctx, g.rawBucket, storage.InputKey(jobID, req.ContentType), req.Image, req.ContentType)
	if err != nil {
		return nil, model.Consumption{}, g.compensate(ctx, id, spent, jobID, fmt.Errorf("store input: %w", err))
	}
	input := model.Asset{
		Bucket:      loc.Bucket,
		ObjectKey:   loc.Key,
		ContentType: req.ContentType,
		ByteSize:    int64(len(req.Image)),
		SHA256:      storage.Checksum(req.Image),
	}
	j, err := g.jobs.Create(ctx, jobID, id.Owner, category, input)
	if err != nil {
		if derr := g.objects.Delete(context.WithoutCancel(ctx), loc); derr != nil {
			g.log.Warn("orphan input object", zap.String("key", loc.Key), zap.Error(derr))
		}
		return nil, model.Consumption{}, g.compensate(ctx, id, spent, jobID, err)
	}

	observability.JobsSubmitted.Inc()
	if g.notify != nil {
		g.notify.Notify()
	}
	return j, spent, nil
}

// compensate refunds purchased credits charged for a job that was never created.
func (g *Generation) compensate(ctx context.Context, id model.Identity, spent model.Consumption, jobID uuid.UUID, cause error) error {
	account, ok := id.Owner.AccountID()
	if !ok || spent.PurchasedUsed == 0 {
		return cause
	}
	if _, err := g.ledger.Refund(context.WithoutCancel(ctx), account, spent.PurchasedUsed, jobID); err != nil {
		g.log.Error("refund after failed submit",
			zap.String("account_id", account.String()),
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
		return errors.Join(cause, err)
	}
	g.log.Info("refunded failed submit",
		zap.String("account_id", account.String()),
		zap.String("job_id", jobID.String()),
		zap.Int64("credits", spent.PurchasedUsed),
	)
	return cause
}
