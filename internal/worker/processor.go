package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"pharmacy-finder/internal/config"
	"pharmacy-finder/internal/content"
	"pharmacy-finder/internal/models"
	"pharmacy-finder/internal/queue"
	"pharmacy-finder/internal/store"
	"pharmacy-finder/internal/telemetry"
)

// Processor drives the worker execution loop: it promotes scheduled jobs,
// reclaims expired leases, and dispatches generation jobs to handlers.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    *store.Store
	pipeline *content.Pipeline
	handlers map[string]Handler
	logger   *slog.Logger

	lastPublish time.Time
}

// Handler executes a generation job of a given kind.
type Handler func(ctx context.Context, job models.GenerationJob) error

func NewProcessor(cfg config.Config, q *queue.RedisQueue, st *store.Store, pl *content.Pipeline, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		pipeline: pl,
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "worker"),
	}
	p.handlers[models.JobKindPharmacy] = p.handlePharmacy
	p.handlers[models.JobKindBlog] = p.handleBlog
	return p
}

// RegisterHandler binds a handler to a job kind, replacing any default.
func (p *Processor) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		_, _ = p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize))
		if reclaimed, _ := p.queue.RequeueExpired(ctx, now, 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.logger.Warn("reclaimed expired leases", "count", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		p.sweepDue(ctx, now)

		job, ok, err := p.queue.DequeueWithLease(ctx)
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		telemetry.InFlightGauge.Inc()
		err = p.runJob(ctx, job)
		if err == nil {
			_ = p.queue.Ack(ctx, job.ID)
			telemetry.GenerationSuccess.Inc()
			telemetry.InFlightGauge.Dec()
			continue
		}

		job.Attempts++
		if job.Attempts >= p.cfg.MaxAttempts {
			_ = p.queue.DeadLetter(ctx, job)
			telemetry.GenerationFailure.Inc()
			telemetry.DeadLettered.Inc()
			telemetry.InFlightGauge.Dec()
			p.logger.Error("job dead-lettered", "id", job.ID, "kind", job.Kind, "slug", job.Slug, "error", err)
			continue
		}

		backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, job.Attempts)
		_ = p.queue.Retry(ctx, job, time.Now().Add(backoff))
		telemetry.GenerationFailure.Inc()
		telemetry.InFlightGauge.Dec()
		p.logger.Warn("job retry scheduled", "id", job.ID, "kind", job.Kind, "slug", job.Slug,
			"attempts", job.Attempts, "backoff", backoff, "error", err)
	}
}

// sweepDue publishes due content items at most once per publish interval.
func (p *Processor) sweepDue(ctx context.Context, now time.Time) {
	if p.pipeline == nil {
		return
	}
	if !p.lastPublish.IsZero() && now.Sub(p.lastPublish) < p.cfg.PublishInterval {
		return
	}
	p.lastPublish = now
	n, err := p.pipeline.PublishDue(ctx, p.cfg.GenerateBatchSize)
	if err != nil {
		p.logger.Error("publish sweep failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("publish sweep", "published", n)
	}
}

func (p *Processor) runJob(ctx context.Context, job models.GenerationJob) error {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", job.Kind)
	}
	return handler(ctx, job)
}

func (p *Processor) handlePharmacy(ctx context.Context, job models.GenerationJob) error {
	ph, err := p.store.GetPharmacy(ctx, job.HPID)
	if err != nil {
		return fmt.Errorf("load pharmacy %s: %w", job.HPID, err)
	}
	return p.pipeline.GeneratePharmacy(ctx, ph)
}

func (p *Processor) handleBlog(ctx context.Context, job models.GenerationJob) error {
	return p.pipeline.GenerateBlog(ctx, job.Slug, job.Title, job.Topic)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
