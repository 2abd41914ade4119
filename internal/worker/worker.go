// Package worker runs generation jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/generator"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/observability"
	"github.com/and161185/picpaygo/internal/repository"
	"github.com/and161185/picpaygo/internal/storage"
)

const (
	maxErrorLen  = 500
	persistAfter = 10 * time.Second

	msgInterrupted = "interrupted by shutdown"
	msgStale       = "worker lost while processing"
)

// Config sizes the pool.
type Config struct {
	Workers         int
	Timeout         time.Duration // per provider call
	PollInterval    time.Duration
	GeneratedBucket string
}

// Pool claims queued jobs and drives them to a terminal status.
type Pool struct {
	jobs    repository.JobRepository
	objects storage.ObjectStore
	gen     generator.Generator
	cfg     Config
	log     *zap.Logger
	wake    chan struct{}
	now     func() time.Time
}

// New constructs a pool. Zero config values fall back to one worker, a two
// minute timeout and a two second poll.
func New(jobs repository.JobRepository, objects storage.ObjectStore, gen generator.Generator, cfg Config, log *zap.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Pool{
		jobs:    jobs,
		objects: objects,
		gen:     gen,
		cfg:     cfg,
		log:     log,
		wake:    make(chan struct{}, cfg.Workers),
		now:     time.Now,
	}
}

// Notify wakes an idle worker. It never blocks.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and a stale-job reaper and blocks until ctx is done.
// Jobs in flight at shutdown are failed.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.ReapStale(ctx); err != nil {
		p.log.Error("reap stale jobs", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		g.Go(func() error {
			p.loop(ctx, i)
			return nil
		})
	}
	g.Go(func() error {
		t := time.NewTicker(p.cfg.Timeout)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if _, err := p.ReapStale(ctx); err != nil && ctx.Err() == nil {
					p.log.Error("reap stale jobs", zap.Error(err))
				}
			}
		}
	})
	p.log.Info("worker pool started", zap.Int("workers", p.cfg.Workers), zap.Duration("timeout", p.cfg.Timeout))
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, n int) {
	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	for {
		for ctx.Err() == nil && p.RunOnce(ctx) {
		}
		select {
		case <-ctx.Done():
			p.log.Debug("worker exit", zap.Int("worker", n))
			return
		case <-p.wake:
		case <-t.C:
		}
	}
}

// RunOnce claims one queued job and processes it. It reports whether a job was claimed.
func (p *Pool) RunOnce(ctx context.Context) bool {
	j, ok, err := p.jobs.ClaimNext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("claim job", zap.Error(err))
		}
		return false
	}
	if !ok {
		return false
	}
	p.handle(ctx, j)
	return true
}

// ReapStale fails jobs stuck in processing for longer than twice the timeout,
// left behind by a crashed process.
func (p *Pool) ReapStale(ctx context.Context) (int64, error) {
	n, err := p.jobs.FailStale(ctx, p.now().Add(-2*p.cfg.Timeout), msgStale)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Warn("stale jobs failed", zap.Int64("count", n))
		observability.JobsFinished.WithLabelValues(string(model.JobFailed)).Add(float64(n))
	}
	return n, nil
}

func (p *Pool) handle(ctx context.Context, j *model.Job) {
	observability.WorkersBusy.Inc()
	defer observability.WorkersBusy.Dec()
	start := time.Now()
	log := p.log.With(zap.String("job_id", j.ID.String()), zap.String("category", j.Category))

	ctx, span := observability.StartSpan(ctx, "worker.job",
		attribute.String("job.id", j.ID.String()),
		attribute.String("job.category", j.Category),
	)
	out, err := p.process(ctx, j)

	// the outcome is persisted even when shutdown has canceled ctx
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistAfter)
	defer cancel()

	status := model.JobCompleted
	if err == nil {
		if err = p.jobs.Complete(pctx, j.ID, out); err != nil {
			p.discard(pctx, out, log)
			if errors.Is(err, errs.ErrJobAlreadyTerminal) {
				log.Warn("job finished elsewhere", zap.Error(err))
				observability.EndSpan(span, err)
				return
			}
		}
	}
	if err != nil {
		status = model.JobFailed
		msg := failureMessage(ctx, err, p.cfg.Timeout)
		log.Warn("job failed", zap.String("reason", msg), zap.Error(err))
		if ferr := p.jobs.Fail(pctx, j.ID, msg); ferr != nil {
			log.Error("record job failure", zap.Error(ferr))
		}
	} else {
		log.Info("job completed", zap.Duration("took", time.Since(start)))
	}
	observability.JobsFinished.WithLabelValues(string(status)).Inc()
	observability.JobDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	observability.EndSpan(span, err)
}

// process runs the provider call and stores the output. Panics become errors.
func (p *Pool) process(ctx context.Context, j *model.Job) (out model.Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panic", zap.String("job_id", j.ID.String()), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	assets, err := p.jobs.Assets(ctx, j.ID)
	if err != nil {
		return model.Asset{}, fmt.Errorf("load assets: %w", err)
	}
	var input *model.Asset
	for i := range assets {
		if assets[i].Kind == model.AssetInput {
			input = &assets[i]
		}
	}
	if input == nil {
		return model.Asset{}, errors.New("input image missing")
	}
	data, contentType, err := p.objects.Get(ctx, storage.Locator{Bucket: input.Bucket, Key: input.ObjectKey})
	if err != nil {
		return model.Asset{}, fmt.Errorf("load input image: %w", err)
	}
	if contentType == "" {
		contentType = input.ContentType
	}
	prompt, ok := generator.Prompt(j.Category)
	if !ok {
		return model.Asset{}, fmt.Errorf("unsupported category %q", j.Category)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	res, err := p.gen.Generate(callCtx, generator.Request{
		Category:    j.Category,
		Prompt:      prompt,
		Image:       data,
		ContentType: contentType,
	})
	if err != nil {
		return model.Asset{}, err
	}
	if len(res.Image) == 0 {
		return model.Asset{}, errors.New("provider returned no image")
	}
	if res.ContentType == "" {
		res.ContentType = "image/png"
	}

	loc, err := p.objects.Put(ctx, p.cfg.GeneratedBucket, storage.OutputKey(j.ID, res.ContentType), res.Image, res.ContentType)
	if err != nil {
		return model.Asset{}, fmt.Errorf("store output: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Asset{}, err
	}
	return model.Asset{
		ID:          id,
		JobID:       j.ID,
		Kind:        model.AssetOutput,
		Bucket:      loc.Bucket,
		ObjectKey:   loc.Key,
		ContentType: res.ContentType,
		ByteSize:    int64(len(res.Image)),
		SHA256:      storage.Checksum(res.Image),
	}, nil
}

func (p *Pool) discard(ctx context.Context, a model.Asset, log *zap.Logger) {
	if a.ObjectKey == "" {
		return
	}
	if err := p.objects.Delete(ctx, storage.Locator{Bucket: a.Bucket, Key: a.ObjectKey}); err != nil {
		log.Warn("delete unused output", zap.Error(err))
	}
}

func failureMessage(ctx context.Context, err error, timeout time.Duration) string {
	var msg string
	switch {
	case ctx.Err() != nil:
		msg = msgInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("generation timed out after %s", timeout)
	default:
		msg = err.Error()
	}
	return truncateUTF8(msg, maxErrorLen)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
