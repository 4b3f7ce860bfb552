package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// OutboxDispatcher drains store.Store's outbox table to the Event Log —
// the second half of the transactional outbox pattern: handlers commit
// state + event + outbox row in one transaction, and this loop is the
// only thing that ever turns an outbox row into a published envelope
// (spec.md §5). Republishing an already-published row is harmless (P6);
// MarkPublished is itself idempotent.
type OutboxDispatcher struct {
	Store     store.Store
	Publisher eventlog.Publisher
	BatchSize int
	Interval  time.Duration
	Logger    *slog.Logger
}

// NewOutboxDispatcher builds a dispatcher with sane defaults.
func NewOutboxDispatcher(st store.Store, pub eventlog.Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		Store:     st,
		Publisher: pub,
		BatchSize: 100,
		Interval:  500 * time.Millisecond,
		Logger:    slog.Default(),
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		if err := d.tick(ctx); err != nil && ctx.Err() == nil {
			d.Logger.Error("outbox dispatch tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) tick(ctx context.Context) error {
	rows, err := d.Store.PendingOutbox(ctx, d.BatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := d.Publisher.Publish(ctx, row.Topic, row.Envelope); err != nil {
			d.Logger.Error("outbox publish failed, will retry next tick", "topic", row.Topic, "error", err)
			continue
		}
		if err := d.Store.MarkPublished(ctx, row.RowID); err != nil {
			d.Logger.Error("outbox mark-published failed", "row_id", row.RowID, "error", err)
		}
	}
	return nil
}
