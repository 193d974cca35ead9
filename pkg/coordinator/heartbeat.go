package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// upsertHeartbeat records the caller's liveness (step 1). Grounded on
// the worker pool's heartbeat update, generalized from a single-column
// touch to a full insert-or-update since an instance may not yet be
// registered.
func upsertHeartbeat(ctx context.Context, tx *sql.Tx, inst models.ServiceInstance) error {
	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling instance metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wh_service_instances (instance_id, service_name, host_name, process_id, metadata, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (instance_id) DO UPDATE SET
			service_name  = EXCLUDED.service_name,
			host_name     = EXCLUDED.host_name,
			process_id    = EXCLUDED.process_id,
			metadata      = EXCLUDED.metadata,
			last_heartbeat = now()
	`, inst.ID, inst.ServiceName, inst.HostName, inst.ProcessID, metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting service instance: %w", err)
	}
	return nil
}

// cleanupStaleInstances removes instances whose last_heartbeat predates
// the stale threshold (step 2). This shrinks the active-instance set
// the ownership formula uses, rebalancing partitions without an
// explicit handoff protocol.
func cleanupStaleInstances(ctx context.Context, tx *sql.Tx, staleThresholdSeconds int) error {
	cutoff := time.Duration(staleThresholdSeconds) * time.Second
	_, err := tx.ExecContext(ctx,
		`DELETE FROM wh_service_instances WHERE last_heartbeat < now() - $1 * interval '1 second'`,
		cutoff.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("deleting stale service instances: %w", err)
	}
	return nil
}

// activeInstanceIDs loads the current active-instance set used by the
// hash-partition ownership formula in step 9.
func activeInstanceIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT instance_id FROM wh_service_instances ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("querying active instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
