package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/partition"
)

// ingestInbox stores new inbound messages (step 5). The dedup table is
// the sole point of exactly-once ingestion: ON CONFLICT DO NOTHING on
// message_id means a replayed message_id is silently absorbed, both in
// the dedup table and the inbox row itself.
func ingestInbox(ctx context.Context, tx *sql.Tx, msgs []models.NewInboxMessage, partitionCount int) ([]models.BatchItemError, error) {
	var errs []models.BatchItemError

	for _, m := range msgs {
		if err := models.Validate(m); err != nil {
			errs = append(errs, models.BatchItemError{MessageID: m.MessageID, Kind: models.ErrKindValidationError, Err: err})
			continue
		}

		var inserted bool
		err := tx.QueryRowContext(ctx, `
			INSERT INTO wh_message_deduplication (message_id, first_seen_at)
			VALUES ($1, now())
			ON CONFLICT (message_id) DO NOTHING
			RETURNING true
		`, m.MessageID).Scan(&inserted)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("deduplicating inbox message %s: %w", m.MessageID, err)
		}
		if err == sql.ErrNoRows {
			// Already seen: permanently rejected, regardless of inbox row state.
			continue
		}

		var status models.StatusFlags
		var partitionNumber *int
		if m.StreamID != nil {
			p := partition.Of(*m.StreamID, partitionCount)
			partitionNumber = &p
		}

		metadataJSON, err := marshalOrEmpty(m.MetadataJSON)
		if err != nil {
			return nil, fmt.Errorf("marshaling inbox metadata: %w", err)
		}
		scopeJSON, err := marshalOrEmpty(m.ScopeJSON)
		if err != nil {
			return nil, fmt.Errorf("marshaling inbox scope: %w", err)
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
			INSERT INTO wh_inbox (
				message_id, handler_name, event_type, envelope_type, envelope_json,
				metadata_json, scope_json, stream_id, partition_number, is_event,
				status, attempts, received_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,now())
			ON CONFLICT (message_id) DO NOTHING
		`, m.MessageID, m.HandlerName, m.EventType, m.EnvelopeType, m.EnvelopeJSON,
			metadataJSON, scopeJSON, m.StreamID, partitionNumber, m.IsEvent, status)
		if err != nil {
			return nil, fmt.Errorf("inserting inbox row for %s: %w", m.MessageID, err)
		}
	}

	return errs, nil
}

// processInboxCompletions applies step 6 to inbox rows. Non-event rows
// terminate on Stored alone; event rows need Stored|EventStored.
func processInboxCompletions(ctx context.Context, tx *sql.Tx, completions []models.Completion, flags models.BatchFlags) error {
	for _, comp := range completions {
		var newStatus models.StatusFlags
		var isEvent bool
		err := tx.QueryRowContext(ctx,
			`UPDATE wh_inbox SET status = status | $2 WHERE message_id = $1 RETURNING status, is_event`,
			comp.MessageID, comp.Status,
		).Scan(&newStatus, &isEvent)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating inbox completion for %s: %w", comp.MessageID, err)
		}

		terminal := newStatus.Has(models.StatusStored)
		if isEvent {
			terminal = terminal && newStatus.Has(models.StatusEventStored)
		}
		if !terminal {
			continue
		}

		if flags.Has(models.DebugMode) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE wh_inbox SET processed_at = now() WHERE message_id = $1`, comp.MessageID,
			); err != nil {
				return fmt.Errorf("stamping processed_at for %s: %w", comp.MessageID, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM wh_inbox WHERE message_id = $1`, comp.MessageID); err != nil {
			return fmt.Errorf("deleting processed inbox row %s: %w", comp.MessageID, err)
		}
	}
	return nil
}

// processInboxFailures applies step 7 to inbox rows, including the
// cascade release: any later message in the same stream has its claim
// cleared so it is not stranded on the failing instance. It still
// cannot be claimed until this row resolves (terminal or permanently
// Failed), because the stream-ordering guard in claimInbox
// treats this unresolved row as blocking.
func processInboxFailures(ctx context.Context, tx *sql.Tx, failures []models.Failure, maxAttempts int) error {
	for _, f := range failures {
		var attempts int
		var status models.StatusFlags
		var streamID sql.NullString
		err := tx.QueryRowContext(ctx, `
			UPDATE wh_inbox SET
				status = status | $2,
				failure_reason = $3,
				attempts = attempts + 1,
				instance_id = NULL,
				lease_expiry = NULL
			WHERE message_id = $1
			RETURNING attempts, status, stream_id
		`, f.MessageID, f.Status, f.Reason).Scan(&attempts, &status, &streamID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating inbox failure for %s: %w", f.MessageID, err)
		}

		if attempts >= maxAttempts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE wh_inbox SET status = status | $2 WHERE message_id = $1`,
				f.MessageID, models.StatusFailed,
			); err != nil {
				return fmt.Errorf("marking inbox %s permanently failed: %w", f.MessageID, err)
			}
		}

		if streamID.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE wh_inbox SET instance_id = NULL, lease_expiry = NULL
				WHERE stream_id = $1 AND message_id <> $2
				  AND received_at > (SELECT received_at FROM wh_inbox WHERE message_id = $2)
			`, streamID.String, f.MessageID); err != nil {
				return fmt.Errorf("cascading release for stream %s: %w", streamID.String, err)
			}
		}
	}
	return nil
}
