package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/partition"
)

// outboxGuard builds the stream-ordering guard clause for step 9: a
// row for stream s is only claimable when no earlier row in the same
// stream is unresolved, whichever instance (the caller included, or
// none) currently holds it.
// Unresolved means not permanently Failed and not Published — a
// completed row is deleted outright unless DebugMode retains it, so
// checking Published here also covers the retained-for-debugging case.
// A just-failed-but-retryable row counts as unresolved, which is what
// makes processOutboxFailures's lease-clearing actually withhold later
// messages instead of only affecting the failed row itself.
const outboxGuard = `
	NOT EXISTS (
		SELECT 1 FROM wh_outbox AS blocker
		WHERE blocker.stream_id = r.stream_id
		  AND (EXTRACT(EPOCH FROM blocker.created_at) * 1000)::bigint < r.sequence_order
		  AND (blocker.status & 32768) = 0
		  AND (blocker.status & 4) = 0
	)
`

// inboxGuard mirrors outboxGuard. Terminal for an inbox row is Stored
// for non-event rows and Stored|EventStored for event rows, since
// either shape is deleted on completion unless DebugMode keeps it.
const inboxGuard = `
	NOT EXISTS (
		SELECT 1 FROM wh_inbox AS blocker
		WHERE blocker.stream_id = r.stream_id
		  AND (EXTRACT(EPOCH FROM blocker.received_at) * 1000)::bigint < r.sequence_order
		  AND (blocker.status & 32768) = 0
		  AND NOT (
			(blocker.is_event AND (blocker.status & 3) = 3)
			OR (NOT blocker.is_event AND (blocker.status & 1) = 1)
		  )
	)
`

// claimOutbox implements steps 9-10 for the outbox table: select
// candidate rows this instance owns by partition hash, respect the
// stream-ordering guard, then assign instance_id/lease_expiry.
func claimOutbox(ctx context.Context, tx *sql.Tx, instanceID string, activeInstances []string, leaseSeconds int) ([]models.OutboxWorkItem, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH candidates AS (
			SELECT
				message_id, destination, event_type, envelope_type, envelope_json,
				metadata_json, scope_json, stream_id, partition_number, is_event,
				status, attempts, instance_id,
				(EXTRACT(EPOCH FROM created_at) * 1000)::bigint AS sequence_order
			FROM wh_outbox AS r
			WHERE (r.status & 32768) = 0
			  AND (r.status & 4) = 0
			  AND (r.lease_expiry IS NULL OR r.lease_expiry < now())
			  AND (r.scheduled_for IS NULL OR r.scheduled_for <= now())
			  AND (r.stream_id IS NULL OR `+outboxGuard+`)
		)
		SELECT message_id, destination, event_type, envelope_type, envelope_json,
			metadata_json, scope_json, stream_id, partition_number, is_event,
			status, attempts, instance_id, sequence_order
		FROM candidates
	`)
	if err != nil {
		return nil, fmt.Errorf("selecting outbox candidates: %w", err)
	}

	type candidate struct {
		id              uuid.UUID
		destination     string
		eventType       string
		envelopeType    string
		envelope        []byte
		metadata        []byte
		scope           []byte
		streamID        sql.NullString
		partitionNumber sql.NullInt64
		isEvent         bool
		status          models.StatusFlags
		attempts        int
		priorInstance   sql.NullString
		sequenceOrder   int64
	}

	var owned []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.destination, &c.eventType, &c.envelopeType, &c.envelope,
			&c.metadata, &c.scope, &c.streamID, &c.partitionNumber, &c.isEvent,
			&c.status, &c.attempts, &c.priorInstance, &c.sequenceOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning outbox candidate: %w", err)
		}
		streamKey := ""
		if c.streamID.Valid {
			streamKey = c.streamID.String
		}
		if partition.Owner(streamKey, instanceID, activeInstances) {
			owned = append(owned, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating outbox candidates: %w", err)
	}
	rows.Close()

	items := make([]models.OutboxWorkItem, 0, len(owned))
	for _, c := range owned {
		if err := assignClaim(ctx, tx, "wh_outbox", c.id, instanceID, leaseSeconds); err != nil {
			return nil, err
		}

		flags := models.WorkItemFlags(0)
		if c.priorInstance.Valid {
			flags |= models.FlagOrphaned
		} else {
			flags |= models.FlagNewlyStored
		}

		var streamID *string
		if c.streamID.Valid {
			s := c.streamID.String
			streamID = &s
		}
		var partitionNumber *int
		if c.partitionNumber.Valid {
			p := int(c.partitionNumber.Int64)
			partitionNumber = &p
		}

		items = append(items, models.OutboxWorkItem{
			MessageID:       c.id,
			Destination:     c.destination,
			EventType:       c.eventType,
			EnvelopeType:    c.envelopeType,
			EnvelopeJSON:    c.envelope,
			MetadataJSON:    c.metadata,
			ScopeJSON:       c.scope,
			StreamID:        streamID,
			PartitionNumber: partitionNumber,
			IsEvent:         c.isEvent,
			Status:          c.status,
			Attempts:        c.attempts,
			Flags:           flags,
			SequenceOrder:   c.sequenceOrder,
		})
	}
	return items, nil
}

// claimInbox mirrors claimOutbox for the inbox table.
func claimInbox(ctx context.Context, tx *sql.Tx, instanceID string, activeInstances []string, leaseSeconds int) ([]models.InboxWorkItem, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH candidates AS (
			SELECT
				message_id, handler_name, event_type, envelope_type, envelope_json,
				metadata_json, scope_json, stream_id, partition_number, is_event,
				status, attempts, instance_id,
				(EXTRACT(EPOCH FROM received_at) * 1000)::bigint AS sequence_order
			FROM wh_inbox AS r
			WHERE (r.status & 32768) = 0
			  AND NOT (
				(r.is_event AND (r.status & 3) = 3)
				OR (NOT r.is_event AND (r.status & 1) = 1)
			  )
			  AND (r.lease_expiry IS NULL OR r.lease_expiry < now())
			  AND (r.stream_id IS NULL OR `+inboxGuard+`)
		)
		SELECT message_id, handler_name, event_type, envelope_type, envelope_json,
			metadata_json, scope_json, stream_id, partition_number, is_event,
			status, attempts, instance_id, sequence_order
		FROM candidates
	`)
	if err != nil {
		return nil, fmt.Errorf("selecting inbox candidates: %w", err)
	}

	type candidate struct {
		id              uuid.UUID
		handlerName     string
		eventType       string
		envelopeType    string
		envelope        []byte
		metadata        []byte
		scope           []byte
		streamID        sql.NullString
		partitionNumber sql.NullInt64
		isEvent         bool
		status          models.StatusFlags
		attempts        int
		priorInstance   sql.NullString
		sequenceOrder   int64
	}

	var owned []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.handlerName, &c.eventType, &c.envelopeType, &c.envelope,
			&c.metadata, &c.scope, &c.streamID, &c.partitionNumber, &c.isEvent,
			&c.status, &c.attempts, &c.priorInstance, &c.sequenceOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning inbox candidate: %w", err)
		}
		streamKey := ""
		if c.streamID.Valid {
			streamKey = c.streamID.String
		}
		if partition.Owner(streamKey, instanceID, activeInstances) {
			owned = append(owned, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating inbox candidates: %w", err)
	}
	rows.Close()

	items := make([]models.InboxWorkItem, 0, len(owned))
	for _, c := range owned {
		if err := assignClaim(ctx, tx, "wh_inbox", c.id, instanceID, leaseSeconds); err != nil {
			return nil, err
		}

		flags := models.WorkItemFlags(0)
		if c.priorInstance.Valid {
			flags |= models.FlagOrphaned
		} else {
			flags |= models.FlagNewlyStored
		}

		var streamID *string
		if c.streamID.Valid {
			s := c.streamID.String
			streamID = &s
		}
		var partitionNumber *int
		if c.partitionNumber.Valid {
			p := int(c.partitionNumber.Int64)
			partitionNumber = &p
		}

		items = append(items, models.InboxWorkItem{
			MessageID:       c.id,
			HandlerName:     c.handlerName,
			EventType:       c.eventType,
			EnvelopeType:    c.envelopeType,
			EnvelopeJSON:    c.envelope,
			MetadataJSON:    c.metadata,
			ScopeJSON:       c.scope,
			StreamID:        streamID,
			PartitionNumber: partitionNumber,
			IsEvent:         c.isEvent,
			Status:          c.status,
			Attempts:        c.attempts,
			Flags:           flags,
			SequenceOrder:   c.sequenceOrder,
		})
	}
	return items, nil
}

// assignClaim implements step 10 for a single row.
func assignClaim(ctx context.Context, tx *sql.Tx, table string, id uuid.UUID, instanceID string, leaseSeconds int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET instance_id = $2, lease_expiry = now() + $3 * interval '1 second'
		WHERE message_id = $1
	`, table)
	if _, err := tx.ExecContext(ctx, query, id, instanceID, leaseSeconds); err != nil {
		return fmt.Errorf("assigning claim on %s for %s: %w", table, id, err)
	}
	return nil
}

// claimPerspectiveWork finds (stream, perspective) pairs with events
// newer than their last checkpoint, owned by this instance under the
// same partition formula used for outbox/inbox. Perspective names are
// drawn from existing checkpoint rows: a perspective only becomes
// eligible for claiming once something has recorded at least one
// checkpoint for it. Neither the Coordinator nor the perspective
// Runner writes such a first row on its own: it has to be inserted
// into wh_per_checkpoints by the caller.
func claimPerspectiveWork(ctx context.Context, tx *sql.Tx, instanceID string, activeInstances []string, partitionCount int) ([]models.PerspectiveWorkItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT e.stream_id, names.perspective_name, cp.last_event_id
		FROM wh_event_store e
		CROSS JOIN (SELECT DISTINCT perspective_name FROM wh_per_checkpoints) names
		LEFT JOIN wh_per_checkpoints cp
			ON cp.stream_id = e.stream_id AND cp.perspective_name = names.perspective_name
		WHERE cp.status IS DISTINCT FROM $1
	`, models.CheckpointStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("selecting perspective work candidates: %w", err)
	}
	defer rows.Close()

	var items []models.PerspectiveWorkItem
	for rows.Next() {
		var streamID, perspectiveName string
		var lastEventID uuid.NullUUID
		if err := rows.Scan(&streamID, &perspectiveName, &lastEventID); err != nil {
			return nil, fmt.Errorf("scanning perspective work candidate: %w", err)
		}
		if !partition.Owner(streamID, instanceID, activeInstances) {
			continue
		}

		var hasNewer bool
		if lastEventID.Valid {
			err = tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM wh_event_store
					WHERE stream_id = $1
					  AND version > (SELECT version FROM wh_event_store WHERE event_id = $2)
				)
			`, streamID, lastEventID.UUID).Scan(&hasNewer)
		} else {
			err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wh_event_store WHERE stream_id = $1)`, streamID).Scan(&hasNewer)
		}
		if err != nil {
			return nil, fmt.Errorf("checking newer events for stream %s: %w", streamID, err)
		}
		if !hasNewer {
			continue
		}

		item := models.PerspectiveWorkItem{StreamID: streamID, PerspectiveName: perspectiveName}
		if lastEventID.Valid {
			id := lastEventID.UUID
			item.LastEventID = &id
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
