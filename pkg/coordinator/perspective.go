package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// processPerspectiveCompletions applies in-batch perspective completion
// reports to the checkpoint table (step 6, perspective branch).
func processPerspectiveCompletions(ctx context.Context, tx *sql.Tx, completions []models.PerspectiveCompletion) error {
	for _, c := range completions {
		lastEventID := c.LastEventID
		if err := upsertCheckpoint(ctx, tx, c.StreamID, c.PerspectiveName, &lastEventID, models.CheckpointStatusOK, nil); err != nil {
			return fmt.Errorf("recording perspective completion for %s/%s: %w", c.StreamID, c.PerspectiveName, err)
		}
	}
	return nil
}

// processPerspectiveFailures applies in-batch perspective failure
// reports (step 7, perspective branch).
func processPerspectiveFailures(ctx context.Context, tx *sql.Tx, failures []models.PerspectiveFailure) error {
	for _, f := range failures {
		eventID := f.EventID
		errMsg := f.Error
		if err := upsertCheckpoint(ctx, tx, f.StreamID, f.PerspectiveName, &eventID, models.CheckpointStatusFailed, &errMsg); err != nil {
			return fmt.Errorf("recording perspective failure for %s/%s: %w", f.StreamID, f.PerspectiveName, err)
		}
	}
	return nil
}

// queryer is the subset of *sql.Tx / *sql.DB used by checkpoint
// helpers, letting ReportPerspectiveCompletion/Failure run on their own
// lightweight connection outside of ProcessWorkBatch's transaction,
// exactly as the out-of-band reporting path in §4.1 intends.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCheckpoint(ctx context.Context, q queryer, streamID, perspectiveName string, lastEventID *uuid.UUID, status string, errMsg *string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wh_per_checkpoints (stream_id, perspective_name, last_event_id, status, processed_at, error)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (stream_id, perspective_name) DO UPDATE SET
			last_event_id = EXCLUDED.last_event_id,
			status        = EXCLUDED.status,
			processed_at  = now(),
			error         = EXCLUDED.error
	`, streamID, perspectiveName, lastEventID, status, errMsg)
	return err
}
