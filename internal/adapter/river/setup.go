package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
)

// Queues the event jobs are inserted into. Channel events come in bursts
// on load and reload and get their own workers so tenant events are never
// stuck behind them.
const (
	QueueTenantEvents  = "tenant_events"
	QueueChannelEvents = "channel_events"
)

// Setup migrates River's tables in db and returns a client serving both
// event queues. The caller starts and stops the client.
func Setup(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := riversqlite.New(db)

	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.InfoContext(ctx, "river schema migrated", "versions", len(res.Versions))
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &EventWorker{logger: logger})
	river.AddWorker(workers, &ChannelEventWorker{logger: logger})

	client, err := river.NewClient(driver, &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			QueueTenantEvents:  {MaxWorkers: 1},
			QueueChannelEvents: {MaxWorkers: 4},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}
	return client, nil
}
