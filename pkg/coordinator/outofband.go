package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// ReportPerspectiveCompletion updates only the checkpoint row for
// (streamID, perspectiveName), without touching any other table. This
// is the lightweight path for perspective runners that prefer
// per-event checkpointing over batched acknowledgement through
// ProcessWorkBatch.
func (c *Coordinator) ReportPerspectiveCompletion(ctx context.Context, streamID, perspectiveName string, lastEventID uuid.UUID) error {
	if err := upsertCheckpoint(ctx, c.db, streamID, perspectiveName, &lastEventID, models.CheckpointStatusOK, nil); err != nil {
		return fmt.Errorf("reporting perspective completion for %s/%s: %w", streamID, perspectiveName, err)
	}
	return nil
}

// ReportPerspectiveFailure is the failure counterpart of
// ReportPerspectiveCompletion.
func (c *Coordinator) ReportPerspectiveFailure(ctx context.Context, streamID, perspectiveName string, eventID uuid.UUID, errMsg string) error {
	if err := upsertCheckpoint(ctx, c.db, streamID, perspectiveName, &eventID, models.CheckpointStatusFailed, &errMsg); err != nil {
		return fmt.Errorf("reporting perspective failure for %s/%s: %w", streamID, perspectiveName, err)
	}
	return nil
}

// PruneDedup deletes message_deduplication rows older than olderThan.
// The dedup table is documented as "never deleted" by default — this
// is opt-in maintenance the core never calls on its own, so pruning
// only happens when an operator explicitly decides old message ids can
// no longer recur (e.g. the producing system's retry window has
// definitely elapsed). Callers are responsible for choosing a retention
// window that cannot violate the exactly-once-ingestion invariant.
func (c *Coordinator) PruneDedup(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM wh_message_deduplication WHERE first_seen_at < now() - $1 * interval '1 second'`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning message deduplication: %w", err)
	}
	return res.RowsAffected()
}

// FailedWork lists permanently-failed outbox and inbox rows (status
// StatusFailed set) for the admin/debug surface: up to limit rows from
// each table, outbox rows first, each table newest created_at/received_at
// first. limit <= 0 defaults to 100.
func (c *Coordinator) FailedWork(ctx context.Context, limit int) ([]models.FailedWorkRow, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []models.FailedWorkRow

	outboxRows, err := c.db.QueryContext(ctx, `
		SELECT message_id, destination, stream_id, attempts, failure_reason
		FROM wh_outbox WHERE status & $1 != 0
		ORDER BY created_at DESC LIMIT $2
	`, models.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed outbox rows: %w", err)
	}
	for outboxRows.Next() {
		var r models.FailedWorkRow
		r.Table = "wh_outbox"
		if err := outboxRows.Scan(&r.MessageID, &r.Destination, &r.StreamID, &r.Attempts, &r.FailureReason); err != nil {
			outboxRows.Close()
			return nil, fmt.Errorf("scanning failed outbox row: %w", err)
		}
		rows = append(rows, r)
	}
	if err := outboxRows.Err(); err != nil {
		outboxRows.Close()
		return nil, fmt.Errorf("iterating failed outbox rows: %w", err)
	}
	outboxRows.Close()

	inboxRows, err := c.db.QueryContext(ctx, `
		SELECT message_id, handler_name, stream_id, attempts, failure_reason
		FROM wh_inbox WHERE status & $1 != 0
		ORDER BY received_at DESC LIMIT $2
	`, models.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed inbox rows: %w", err)
	}
	defer inboxRows.Close()
	for inboxRows.Next() {
		var r models.FailedWorkRow
		r.Table = "wh_inbox"
		if err := inboxRows.Scan(&r.MessageID, &r.HandlerName, &r.StreamID, &r.Attempts, &r.FailureReason); err != nil {
			return nil, fmt.Errorf("scanning failed inbox row: %w", err)
		}
		rows = append(rows, r)
	}
	if err := inboxRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed inbox rows: %w", err)
	}

	return rows, nil
}
