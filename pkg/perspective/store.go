package perspective

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists projection state, one row per (perspective, stream).
type Store interface {
	// Load returns the persisted state for (perspectiveName, streamID),
	// or ok=false if no row exists yet (the caller should fold from
	// the projection's Zero value in that case).
	Load(ctx context.Context, perspectiveName, streamID string) (state json.RawMessage, ok bool, err error)
	// Save upserts the state for (perspectiveName, streamID).
	Save(ctx context.Context, perspectiveName, streamID string, state json.RawMessage) error
}

// SQLStore is the default Store, backed by the shared wh_per_state
// table (§6) rather than one table per projection — a dynamically
// registered set of projections can't each get a migration-time table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore builds a SQLStore over an already-migrated pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) Load(ctx context.Context, perspectiveName, streamID string) (json.RawMessage, bool, error) {
	var data json.RawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM wh_per_state WHERE perspective_name = $1 AND stream_id = $2`,
		perspectiveName, streamID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading perspective state %s/%s: %w", perspectiveName, streamID, err)
	}
	return data, true, nil
}

func (s *SQLStore) Save(ctx context.Context, perspectiveName, streamID string, state json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wh_per_state (perspective_name, stream_id, data_json, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, now(), now())
		ON CONFLICT (perspective_name, stream_id) DO UPDATE
			SET data_json = EXCLUDED.data_json, version = wh_per_state.version + 1, updated_at = now()
	`, perspectiveName, streamID, state)
	if err != nil {
		return fmt.Errorf("saving perspective state %s/%s: %w", perspectiveName, streamID, err)
	}
	return nil
}
