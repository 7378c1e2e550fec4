// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns an id shared by every log line and lock of one batch run.
func NewRunID() string {
	return uuid.NewString()
}

// JobRun logs the lifecycle of one batch run. Every line carries the job
// name and the attrs it was started with; the logger is expected to add
// run_id from the context.
type JobRun struct {
	logger  *slog.Logger
	started time.Time
	attrs   []slog.Attr
}

// StartJobRun logs "job started" and returns the run.
func StartJobRun(ctx context.Context, logger *slog.Logger, job string, attrs ...slog.Attr) *JobRun {
	r := &JobRun{
		logger:  logger,
		started: time.Now(),
		attrs:   append([]slog.Attr{slog.String("job", job)}, attrs...),
	}
	r.log(ctx, slog.LevelInfo, "job started")
	return r
}

// Started is when the run began.
func (r *JobRun) Started() time.Time {
	return r.started
}

// Succeeded logs "job finished" with the elapsed time and extra result attrs.
func (r *JobRun) Succeeded(ctx context.Context, attrs ...slog.Attr) {
	r.log(ctx, slog.LevelInfo, "job finished", append(attrs, r.elapsed())...)
}

// Skipped logs that the run did no work.
func (r *JobRun) Skipped(ctx context.Context, reason string) {
	r.log(ctx, slog.LevelInfo, "job skipped", slog.String("reason", reason))
}

// Failed logs the error at Error level.
func (r *JobRun) Failed(ctx context.Context, err error) {
	r.log(ctx, slog.LevelError, "job failed", slog.String("error", err.Error()), r.elapsed())
}

func (r *JobRun) elapsed() slog.Attr {
	return slog.Int64("duration_ms", time.Since(r.started).Milliseconds())
}

func (r *JobRun) log(ctx context.Context, level slog.Level, msg string, extra ...slog.Attr) {
	attrs := make([]slog.Attr, 0, len(r.attrs)+len(extra))
	attrs = append(attrs, r.attrs...)
	attrs = append(attrs, extra...)
	r.logger.LogAttrs(ctx, level, msg, attrs...)
}
