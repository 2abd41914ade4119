package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is one newest-first slice of an owner's jobs.
type Page struct {
	Jobs       []model.Job
	NextCursor string // empty on the last page
}

// JobManager creates and reads generation jobs. It never touches credits:
// callers consume before Create.
type JobManager struct {
	jobs       repository.JobRepository
	categories []string
	log        *zap.Logger
}

// NewJobManager constructs a JobManager accepting the given categories.
func NewJobManager(jobs repository.JobRepository, categories []string, log *zap.Logger) *JobManager {
	return &JobManager{jobs: jobs, categories: categories, log: log}
}

// Accepts reports whether category is a known generation category.
func (m *JobManager) Accepts(category string) bool { return slices.Contains(m.categories, category) }

// Create inserts a queued job with its input asset. A nil id is replaced by a fresh one.
func (m *JobManager) Create(ctx context.Context, id uuid.UUID, owner model.Owner, category string, input model.Asset) (*model.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if !m.Accepts(category) {
		return nil, fmt.Errorf("%w: unknown category %q", errs.ErrValidation, category)
	}
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV4(); err != nil {
			return nil, err
		}
	}
	if input.ID == uuid.Nil {
		input.ID = uuid.Must(uuid.NewV4())
	}
	j := &model.Job{ID: id, Owner: owner, Category: category}
	if err := m.jobs.Create(ctx, j, input); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	m.log.Info("job queued",
		zap.String("job_id", j.ID.String()),
		zap.Stringer("owner", owner),
		zap.String("category", category),
	)
	return j, nil
}

// GetStatus reads the latest committed state of a job.
func (m *JobManager) GetStatus(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return m.jobs.Get(ctx, id)
}

// GetForOwner reads a job only if owner owns it; otherwise it reports errs.ErrJobNotFound.
func (m *JobManager) GetForOwner(ctx context.Context, owner model.Owner, id uuid.UUID) (*model.Job, []model.Asset, error) {
	j, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !j.Owner.Equal(owner) {
		return nil, nil, errs.ErrJobNotFound
	}
	assets, err := m.jobs.Assets(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return j, assets, nil
}

// ListByOwner returns a page of owner's jobs, newest first. cursor is the
// NextCursor of the previous page or empty for the first page.
func (m *JobManager) ListByOwner(ctx context.Context, owner model.Owner, limit int, cursor string) (Page, error) {
	if err := owner.Validate(); err != nil {
		return Page{}, err
	}
	after, err := model.DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	// one extra row tells whether another page exists
	jobs, err := m.jobs.ListByOwner(ctx, owner, limit+1, after)
	if err != nil {
		return Page{}, err
	}
	var p Page
	if len(jobs) > limit {
		jobs = jobs[:limit]
		p.NextCursor = model.CursorAfter(jobs[limit-1]).Encode()
	}
	p.Jobs = jobs
	return p, nil
}
