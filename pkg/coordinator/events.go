package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// postgres error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const pgErrUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// appendEvent inserts the next version for a stream (step 4). A
// uniqueness violation on (stream_id, version) means a concurrent
// append raced this one; it is surfaced as an optimistic-concurrency
// error for this message alone so the rest of the batch still proceeds.
func appendEvent(ctx context.Context, tx *sql.Tx, streamID string, eventType string, eventData, metadata, scope []byte) (uuid.UUID, error) {
	var nextVersion int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), -1) + 1 FROM wh_event_store WHERE stream_id = $1`,
		streamID,
	).Scan(&nextVersion)
	if err != nil {
		return uuid.Nil, fmt.Errorf("computing next event version: %w", err)
	}

	eventID := models.NewID()
	// A failed statement aborts the whole Postgres transaction, so the
	// insert runs under a savepoint that a unique violation rolls back to.
	if _, err := tx.ExecContext(ctx, `SAVEPOINT append_event`); err != nil {
		return uuid.Nil, fmt.Errorf("creating append savepoint: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wh_event_store (event_id, stream_id, version, event_type, event_data, metadata, scope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, eventID, streamID, nextVersion, eventType, eventData, metadata, scope)
	if err != nil {
		if isUniqueViolation(err) {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT append_event`); rbErr != nil {
				return uuid.Nil, fmt.Errorf("rolling back append savepoint: %w", rbErr)
			}
			return uuid.Nil, models.NewCoordinatorError(models.ErrKindOptimisticConcurrency,
				fmt.Sprintf("concurrent append to stream %s at version %d", streamID, nextVersion), err)
		}
		return uuid.Nil, fmt.Errorf("appending event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT append_event`); err != nil {
		return uuid.Nil, fmt.Errorf("releasing append savepoint: %w", err)
	}

	return eventID, nil
}
