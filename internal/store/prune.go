package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
)

// NewPruner schedules Prune of installations finished more than keep ago.
// The returned scheduler is started; callers shut it down.
func NewPruner(ctx context.Context, db *sql.DB, cron string, keep time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() { prune(ctx, db, keep) }),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	s.Start()
	return s, nil
}

func prune(ctx context.Context, db *sql.DB, keep time.Duration) {
	n, err := Prune(ctx, db, time.Now().Add(-keep))
	if err != nil {
		slog.ErrorContext(ctx, "pruning installations", "error", err)
		return
	}
	slog.DebugContext(ctx, "installations pruned", "count", n)
}
