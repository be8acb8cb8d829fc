// Package scheduler runs the periodic wallet jobs on a cron clock fixed to
// the platform timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	JobPostingFee      = "posting-fee"
	JobPromotionExpiry = "promotion-expiry"

	defaultLockTTL = 30 * time.Minute
)

// Job is one named unit of periodic work. Run receives the tick time.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context, now time.Time) error
}

type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	locker  redis.RedisClient
	lockTTL time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. locker may be nil for a single instance; with
// several instances it keeps a job from running on more than one at a time.
func New(loc *time.Location, locker redis.RedisClient) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		loc:     loc,
		locker:  locker,
		lockTTL: defaultLockTTL,
		now:     time.Now,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run func", pkgerrors.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: job %q registered twice", pkgerrors.ErrInvalidInput, job.Name)
	}
	if job.Spec != "" {
		name := job.Name
		if _, err := s.cron.AddFunc(job.Spec, func() {
			if err := s.RunOnce(s.ctx, name); err != nil {
				slog.Error("scheduled job failed", "job", name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
	}
	s.jobs[job.Name] = job
	slog.Info("job registered", "job", job.Name, "spec", job.Spec, "timezone", s.loc.String())
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunOnce runs the named job immediately under the same lock the cron
// trigger uses.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (err error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return pkgerrors.ErrUnknownJob
	}

	ctx, span := otel.Tracer("scheduler").Start(ctx, "job."+name)
	defer span.End()
	logger := observability.WithContext(ctx, "job", name)

	release, err := s.lock(ctx, name)
	if err != nil {
		observability.SchedulerJobRuns.WithLabelValues(name, "skipped").Inc()
		logger.Warn("job not started", "error", err)
		return err
	}
	defer release()

	now := s.now().In(s.loc)
	start := time.Now()
	logger.Info("job started", "tick", now)
	if err = job.Run(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.SchedulerJobRuns.WithLabelValues(name, "error").Inc()
		logger.Error("job failed", "duration", time.Since(start), "error", err)
		return err
	}
	observability.SchedulerJobRuns.WithLabelValues(name, "success").Inc()
	logger.Info("job finished", "duration", time.Since(start))
	return nil
}

func (s *Scheduler) lock(ctx context.Context, name string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := redis.JobLockKey(name)
	ok, err := s.locker.SetNX(ctx, key, "locked", s.lockTTL)
	if err != nil {
		// Jobs are idempotent per day, so a missing lock service only
		// risks duplicate work, not duplicate charges.
		slog.Warn("job lock unavailable, running unlocked", "job", name, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, pkgerrors.ErrJobAlreadyRunning
	}
	return func() {
		if err := s.locker.Del(context.Background(), key); err != nil {
			slog.Error("failed to release job lock", "job", name, "error", err)
		}
	}, nil
}
