package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// processReceptorCompletions upserts a terminal row per (message,
// receptor) pair. Several receptors may subscribe to the same inbox
// message; each tracks its own completion independently of the inbox
// row's overall status.
func processReceptorCompletions(ctx context.Context, tx *sql.Tx, completions []models.ReceptorCompletion) error {
	for _, c := range completions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wh_receptor_processing (message_id, receptor_name, status, processed_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (message_id, receptor_name) DO UPDATE SET
				status = wh_receptor_processing.status | EXCLUDED.status,
				processed_at = now()
		`, c.MessageID, c.ReceptorName, models.StatusStored)
		if err != nil {
			return fmt.Errorf("recording receptor completion for %s/%s: %w", c.MessageID, c.ReceptorName, err)
		}
	}
	return nil
}

// processReceptorFailures records a failed receptor invocation.
func processReceptorFailures(ctx context.Context, tx *sql.Tx, failures []models.ReceptorFailure) error {
	for _, f := range failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wh_receptor_processing (message_id, receptor_name, status, failure_reason, processed_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (message_id, receptor_name) DO UPDATE SET
				status = wh_receptor_processing.status | EXCLUDED.status,
				failure_reason = EXCLUDED.failure_reason,
				processed_at = now()
		`, f.MessageID, f.ReceptorName, models.StatusFailed, f.Reason)
		if err != nil {
			return fmt.Errorf("recording receptor failure for %s/%s: %w", f.MessageID, f.ReceptorName, err)
		}
	}
	return nil
}
