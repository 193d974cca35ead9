package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// renewLeases extends lease_expiry for every id the caller still owns
// (step 8). Ids the caller no longer owns are silently skipped — the
// UPDATE's instance_id predicate naturally excludes them, matching the
// "renewal silently skips ids the caller no longer owns" requirement.
func renewLeases(ctx context.Context, tx *sql.Tx, table string, ids []uuid.UUID, instanceID string, leaseSeconds int) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s SET lease_expiry = now() + $1 * interval '1 second'
		WHERE message_id = $2 AND instance_id = $3
	`, table)

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, leaseSeconds, id, instanceID); err != nil {
			return fmt.Errorf("renewing lease for %s: %w", id, err)
		}
	}
	return nil
}
