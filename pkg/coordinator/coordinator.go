// Package coordinator implements ProcessWorkBatch, the single atomic
// database operation described in §4.1: instance heartbeating, stale
// cleanup, outbox/inbox ingestion, event-store append, completion and
// failure processing, lease renewal, and hash-partition work claiming.
//
// Every step runs inside one *sql.Tx. There is no generated model layer
// here — the queries are raw SQL against the tables pkg/database's
// migrations create, following the same escape hatch the reference
// publisher used for its one transactional unit.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// Coordinator owns the database pool; table names are fixed in its SQL. It is
// safe for concurrent use — every call opens its own transaction and
// holds no in-memory state across calls, per the "no shared in-memory
// state between instances" requirement in §5.
type Coordinator struct {
	db *sql.DB
}

// New builds a Coordinator over an already-migrated pool.
func New(db *sql.DB) *Coordinator {
	return &Coordinator{db: db}
}

// ProcessWorkBatch executes the eleven ordered steps of §4.1 inside a
// single transaction and returns the next batch of work this instance
// should perform. All steps commit together or not at all.
func (c *Coordinator) ProcessWorkBatch(ctx context.Context, req models.BatchRequest) (models.WorkBatch, error) {
	if err := models.Validate(req); err != nil {
		return models.WorkBatch{}, err
	}

	cfg := req.Config
	if cfg.PartitionCount == 0 {
		cfg = models.DefaultBatchConfig()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("beginning work batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	partitionCount, err := lockPartitionCount(ctx, tx, cfg.PartitionCount)
	if err != nil {
		return models.WorkBatch{}, err
	}
	cfg.PartitionCount = partitionCount

	batch := models.WorkBatch{}

	// 1. Heartbeat
	if err := upsertHeartbeat(ctx, tx, req.Instance); err != nil {
		return models.WorkBatch{}, fmt.Errorf("heartbeat: %w", err)
	}

	// 2. Stale cleanup
	staleThreshold := cfg.StaleInstanceThreshold
	if staleThreshold == 0 {
		staleThreshold = models.DefaultStaleThresholdSecs
	}
	if err := cleanupStaleInstances(ctx, tx, staleThreshold); err != nil {
		return models.WorkBatch{}, fmt.Errorf("stale cleanup: %w", err)
	}

	activeInstances, err := activeInstanceIDs(ctx, tx)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("loading active instances: %w", err)
	}

	// 3-4. Ingest new outbox messages, appending events inline.
	outboxErrs, err := ingestOutbox(ctx, tx, req.NewOutbox, cfg.PartitionCount)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("ingesting outbox: %w", err)
	}
	batch.Errors = append(batch.Errors, outboxErrs...)

	// 5. Ingest new inbox messages, deduplicated, appending events inline.
	inboxErrs, err := ingestInbox(ctx, tx, req.NewInbox, cfg.PartitionCount)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("ingesting inbox: %w", err)
	}
	batch.Errors = append(batch.Errors, inboxErrs...)

	// 6. Process completions.
	if err := processOutboxCompletions(ctx, tx, req.OutboxCompletions, cfg.Flags); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing outbox completions: %w", err)
	}
	if err := processInboxCompletions(ctx, tx, req.InboxCompletions, cfg.Flags); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing inbox completions: %w", err)
	}
	if err := processReceptorCompletions(ctx, tx, req.ReceptorCompletions); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing receptor completions: %w", err)
	}
	if err := processPerspectiveCompletions(ctx, tx, req.PerspectiveCompletions); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing perspective completions: %w", err)
	}

	// 7. Process failures (with inbox cascade release).
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	if err := processOutboxFailures(ctx, tx, req.OutboxFailures, maxAttempts); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing outbox failures: %w", err)
	}
	if err := processInboxFailures(ctx, tx, req.InboxFailures, maxAttempts); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing inbox failures: %w", err)
	}
	if err := processReceptorFailures(ctx, tx, req.ReceptorFailures); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing receptor failures: %w", err)
	}
	if err := processPerspectiveFailures(ctx, tx, req.PerspectiveFailures); err != nil {
		return models.WorkBatch{}, fmt.Errorf("processing perspective failures: %w", err)
	}

	// 8. Renew leases.
	leaseSeconds := cfg.LeaseSeconds
	if leaseSeconds == 0 {
		leaseSeconds = models.DefaultLeaseSeconds
	}
	if err := renewLeases(ctx, tx, "wh_outbox", req.RenewOutbox, req.Instance.ID, leaseSeconds); err != nil {
		return models.WorkBatch{}, fmt.Errorf("renewing outbox leases: %w", err)
	}
	if err := renewLeases(ctx, tx, "wh_inbox", req.RenewInbox, req.Instance.ID, leaseSeconds); err != nil {
		return models.WorkBatch{}, fmt.Errorf("renewing inbox leases: %w", err)
	}

	// 9-10. Claim outbox/inbox work for owned partitions.
	batch.Outbox, err = claimOutbox(ctx, tx, req.Instance.ID, activeInstances, leaseSeconds)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("claiming outbox: %w", err)
	}
	batch.Inbox, err = claimInbox(ctx, tx, req.Instance.ID, activeInstances, leaseSeconds)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("claiming inbox: %w", err)
	}
	batch.Perspectives, err = claimPerspectiveWork(ctx, tx, req.Instance.ID, activeInstances, cfg.PartitionCount)
	if err != nil {
		return models.WorkBatch{}, fmt.Errorf("claiming perspective work: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.WorkBatch{}, fmt.Errorf("committing work batch: %w", err)
	}

	return batch, nil
}
