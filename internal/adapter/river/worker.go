package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// EventWorker handles tenant status events. It records them in the log;
// downstream notification hooks attach here.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
	logger *slog.Logger
}

// Work processes a single tenant event job.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	w.logger.InfoContext(ctx, "tenant event",
		"event", job.Args.Event,
		"tenant_id", job.Args.TenantID,
		"level", job.Args.Level,
		"status", job.Args.Status,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

// ChannelEventWorker handles channel lifecycle events.
type ChannelEventWorker struct {
	river.WorkerDefaults[ChannelEventJobArgs]
	logger *slog.Logger
}

// Work processes a single channel event job.
func (w *ChannelEventWorker) Work(ctx context.Context, job *river.Job[ChannelEventJobArgs]) error {
	level := slog.LevelInfo
	if job.Args.Status == "ERROR" {
		level = slog.LevelWarn
	}
	w.logger.Log(ctx, level, "channel event",
		"event", job.Args.Event,
		"channel", job.Args.Channel,
		"tenant_id", job.Args.TenantID,
		"protocol", job.Args.Protocol,
		"status", job.Args.Status,
		"job_id", job.ID,
	)
	return nil
}
