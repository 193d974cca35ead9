package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// EventsAfter returns a stream's events with version strictly greater
// than afterEventID's version, ordered by version ascending. A nil
// afterEventID returns the whole stream from version 0. This is the
// only read path perspective runners get into the event store — per
// §4.5 a runner never writes to it, only folds what this returns.
func (c *Coordinator) EventsAfter(ctx context.Context, streamID string, afterEventID *uuid.UUID) ([]models.EventRow, error) {
	afterVersion := int64(-1)
	if afterEventID != nil {
		if err := c.db.QueryRowContext(ctx,
			`SELECT version FROM wh_event_store WHERE event_id = $1 AND stream_id = $2`,
			*afterEventID, streamID,
		).Scan(&afterVersion); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("checkpoint event %s not found in stream %s", *afterEventID, streamID)
			}
			return nil, fmt.Errorf("resolving checkpoint version: %w", err)
		}
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, stream_id, version, event_type, event_data, metadata, scope, created_at
		FROM wh_event_store
		WHERE stream_id = $1 AND version > $2
		ORDER BY version ASC
	`, streamID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("reading events for stream %s: %w", streamID, err)
	}
	defer rows.Close()

	var events []models.EventRow
	for rows.Next() {
		var e models.EventRow
		if err := rows.Scan(&e.EventID, &e.StreamID, &e.Version, &e.EventType, &e.EventData, &e.Metadata, &e.Scope, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}
