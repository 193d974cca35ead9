package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/partition"
)

// ingestOutbox stores new outbound messages (step 3), appending event-
// store rows inline for is_event messages (step 4). A per-message
// optimistic-concurrency failure does not abort the rest of the batch.
func ingestOutbox(ctx context.Context, tx *sql.Tx, msgs []models.NewOutboxMessage, partitionCount int) ([]models.BatchItemError, error) {
	var errs []models.BatchItemError

	for _, m := range msgs {
		if err := models.Validate(m); err != nil {
			errs = append(errs, models.BatchItemError{MessageID: m.MessageID, Kind: models.ErrKindValidationError, Err: err})
			continue
		}

		status := models.StatusStored
		var partitionNumber *int
		if m.StreamID != nil {
			p := partition.Of(*m.StreamID, partitionCount)
			partitionNumber = &p
		}

		metadataJSON, err := marshalOrEmpty(m.MetadataJSON)
		if err != nil {
			return nil, fmt.Errorf("marshaling outbox metadata: %w", err)
		}
		scopeJSON, err := marshalOrEmpty(m.ScopeJSON)
		if err != nil {
			return nil, fmt.Errorf("marshaling outbox scope: %w", err)
		}

		if m.IsEvent && m.StreamID != nil {
			if _, err := appendEvent(ctx, tx, *m.StreamID, m.EventType, m.EnvelopeJSON, metadataJSON, scopeJSON); err != nil {
				var cerr *models.CoordinatorError
				if asCoordinatorError(err, &cerr) {
					errs = append(errs, models.BatchItemError{MessageID: m.MessageID, Kind: cerr.Kind, Err: cerr})
					continue
				}
				return nil, err
			}
			status |= models.StatusEventStored
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wh_outbox (
				message_id, destination, event_type, envelope_type, envelope_json,
				metadata_json, scope_json, stream_id, partition_number, is_event,
				status, attempts, scheduled_for, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,now())
			ON CONFLICT (message_id) DO NOTHING
		`, m.MessageID, m.Destination, m.EventType, m.EnvelopeType, m.EnvelopeJSON,
			metadataJSON, scopeJSON, m.StreamID, partitionNumber, m.IsEvent,
			status, m.ScheduledFor)
		if err != nil {
			return nil, fmt.Errorf("inserting outbox row for %s: %w", m.MessageID, err)
		}
	}

	return errs, nil
}

// processOutboxCompletions applies step 6 to outbox rows: OR the
// reported mask onto the persisted status, deleting the row once
// Published unless DebugMode retains it.
func processOutboxCompletions(ctx context.Context, tx *sql.Tx, completions []models.Completion, flags models.BatchFlags) error {
	for _, comp := range completions {
		var newStatus models.StatusFlags
		err := tx.QueryRowContext(ctx,
			`UPDATE wh_outbox SET status = status | $2 WHERE message_id = $1 RETURNING status`,
			comp.MessageID, comp.Status,
		).Scan(&newStatus)
		if err == sql.ErrNoRows {
			continue // already terminal and deleted, or unknown id: no-op
		}
		if err != nil {
			return fmt.Errorf("updating outbox completion for %s: %w", comp.MessageID, err)
		}

		if newStatus.Has(models.StatusPublished) {
			if flags.Has(models.DebugMode) {
				if _, err := tx.ExecContext(ctx,
					`UPDATE wh_outbox SET published_at = now() WHERE message_id = $1`, comp.MessageID,
				); err != nil {
					return fmt.Errorf("stamping published_at for %s: %w", comp.MessageID, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM wh_outbox WHERE message_id = $1`, comp.MessageID); err != nil {
				return fmt.Errorf("deleting published outbox row %s: %w", comp.MessageID, err)
			}
		}
	}
	return nil
}

// processOutboxFailures applies step 7 to outbox rows. The Failed bit
// is only set once attempts reach maxAttempts; until then the row
// remains a reclaim candidate (re-offered on the next poll) and, via
// the stream-ordering guard, continues to block later same-stream rows
// from being claimed — this is what implements the failure cascade
// without any extra bookkeeping.
func processOutboxFailures(ctx context.Context, tx *sql.Tx, failures []models.Failure, maxAttempts int) error {
	for _, f := range failures {
		var attempts int
		var status models.StatusFlags
		err := tx.QueryRowContext(ctx, `
			UPDATE wh_outbox SET
				status = status | $2,
				failure_reason = $3,
				attempts = attempts + 1,
				instance_id = NULL,
				lease_expiry = NULL
			WHERE message_id = $1
			RETURNING attempts, status
		`, f.MessageID, f.Status, f.Reason).Scan(&attempts, &status)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating outbox failure for %s: %w", f.MessageID, err)
		}

		if attempts >= maxAttempts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE wh_outbox SET status = status | $2 WHERE message_id = $1`,
				f.MessageID, models.StatusFailed,
			); err != nil {
				return fmt.Errorf("marking outbox %s permanently failed: %w", f.MessageID, err)
			}
		}
	}
	return nil
}

func marshalOrEmpty(v json.RawMessage) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	return v, nil
}

func asCoordinatorError(err error, target **models.CoordinatorError) bool {
	ce, ok := err.(*models.CoordinatorError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
