// Package scheduler triggers the monthly rank rebuild on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runnersmap/internal/cache"
	"runnersmap/internal/middleware"
	"runnersmap/internal/observability"
	"runnersmap/internal/service"

	"github.com/robfig/cron"
)

const jobName = "rank_aggregation"

// DefaultTimeout bounds one aggregation run.
const DefaultTimeout = 5 * time.Minute

// Job is the rank aggregation the scheduler drives.
type Job interface {
	CurrentPeriod() service.RankPeriod
	Aggregate(ctx context.Context, year, month int, executedOn time.Time) (int, error)
	Location() *time.Location
}

// Scheduler runs Job on a six-field cron spec (seconds first). Each tick
// takes a Redis lock for the month so parallel instances do not overlap;
// without Redis it runs unlocked.
type Scheduler struct {
	spec    string
	job     Job
	cron    *cron.Cron
	now     func() time.Time
	timeout time.Duration
}

func New(spec string, job Job) *Scheduler {
	return &Scheduler{
		spec:    spec,
		job:     job,
		cron:    cron.NewWithLocation(job.Location()),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
}

// Start registers the tick and starts the cron loop in the background.
func (s *Scheduler) Start() error {
	if err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("invalid rank schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	middleware.Logger.Info("rank scheduler started", slog.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop. A running tick finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Failures are logged and counted inside RunOnce; the next tick retries.
	_ = s.RunOnce(ctx)
}

// RunOnce rebuilds the current month. The month is resolved once, so the
// lock and the rebuild always agree on it.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	p := s.job.CurrentPeriod()
	return s.run(ctx, p.Year, p.Month, p.At)
}

// RunPeriod rebuilds an explicit month.
func (s *Scheduler) RunPeriod(ctx context.Context, year, month int) error {
	return s.run(ctx, year, month, s.now())
}

func (s *Scheduler) run(ctx context.Context, year, month int, executedOn time.Time) error {
	runID := observability.NewRunID()
	ctx = middleware.WithRunID(ctx, runID)
	run := observability.StartJobRun(ctx, middleware.Logger, jobName,
		slog.Int("year", year), slog.Int("month", month))

	key := cache.RankLockKey(year, month)
	locked, err := cache.TryLock(ctx, key, runID, cache.RankLockTTL)
	switch {
	case errors.Is(err, cache.ErrNoClient):
		// single instance without Redis
	case err != nil:
		middleware.Logger.WarnContext(ctx, "rank lock unavailable, running unlocked", slog.String("error", err.Error()))
	case !locked:
		run.Skipped(ctx, "lock "+key+" held by another instance")
		observability.ObserveRankJob("skipped", run.Started(), 0)
		return nil
	default:
		defer func() {
			if err := cache.Unlock(context.WithoutCancel(ctx), key, runID); err != nil {
				middleware.Logger.WarnContext(ctx, "failed to release rank lock", slog.String("error", err.Error()))
			}
		}()
	}

	ranked, err := s.job.Aggregate(ctx, year, month, executedOn)
	if err != nil {
		observability.ObserveRankJob("failure", run.Started(), 0)
		run.Failed(ctx, err)
		return err
	}

	observability.ObserveRankJob("success", run.Started(), ranked)
	run.Succeeded(ctx, slog.Int("ranked_users", ranked))
	return nil
}
