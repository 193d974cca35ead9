package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// lockPartitionCount enforces the decision that partition_count is fixed
// for the lifetime of a deployment: the first call to ever succeed locks
// it into wh_coordinator_settings, and every later call with a
// mismatched value fails fast rather than silently reshuffling every
// stream's partition assignment underneath already-claimed work.
func lockPartitionCount(ctx context.Context, tx *sql.Tx, requested int) (int, error) {
	if requested <= 0 {
		requested = models.DefaultPartitionCount
	}

	var locked int
	err := tx.QueryRowContext(ctx,
		`SELECT partition_count FROM wh_coordinator_settings WHERE id = 1`,
	).Scan(&locked)

	switch {
	case err == sql.ErrNoRows:
		// A concurrent first batch may insert the row after the SELECT
		// above; ON CONFLICT waits for it and the re-read picks up its value.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wh_coordinator_settings (id, partition_count) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
			requested,
		); err != nil {
			return 0, fmt.Errorf("locking partition_count: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT partition_count FROM wh_coordinator_settings WHERE id = 1`,
		).Scan(&locked); err != nil {
			return 0, fmt.Errorf("reading partition_count setting: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("reading partition_count setting: %w", err)
	}

	if locked != requested {
		return 0, models.NewCoordinatorError(models.ErrKindValidationError,
			fmt.Sprintf("partition_count %d does not match locked value %d", requested, locked), nil)
	}
	return locked, nil
}
