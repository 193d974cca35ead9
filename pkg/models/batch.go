package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Default tuning values for BatchConfig, per spec §4.1.
const (
	DefaultPartitionCount      = 10_000
	DefaultLeaseSeconds        = 300
	DefaultStaleThresholdSecs  = 600
	DefaultMaxAttempts         = 10
	DefaultPerspectiveOverflow = 200
)

// BatchConfig carries the tuning knobs ProcessWorkBatch needs: partition
// count, lease duration, stale-instance threshold, max attempts before
// a row is surfaced as permanently failed, and batch-scoped flags.
type BatchConfig struct {
	PartitionCount          int
	LeaseSeconds            int
	StaleInstanceThreshold  int
	MaxAttempts             int
	Flags                   BatchFlags
}

// DefaultBatchConfig returns the spec's documented defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		PartitionCount:         DefaultPartitionCount,
		LeaseSeconds:           DefaultLeaseSeconds,
		StaleInstanceThreshold: DefaultStaleThresholdSecs,
		MaxAttempts:            DefaultMaxAttempts,
	}
}

// NewOutboxMessage is one message queued for storage via ProcessWorkBatch.
type NewOutboxMessage struct {
	MessageID    uuid.UUID       `validate:"required"`
	Destination  string          `validate:"required"`
	EventType    string          `validate:"required"`
	EnvelopeType string          `validate:"required"`
	EnvelopeJSON json.RawMessage `validate:"required"`
	MetadataJSON json.RawMessage
	ScopeJSON    json.RawMessage
	StreamID     *string
	IsEvent      bool
	ScheduledFor *time.Time
}

// NewInboxMessage is one message queued for ingestion via ProcessWorkBatch.
type NewInboxMessage struct {
	MessageID    uuid.UUID `validate:"required"`
	HandlerName  string    `validate:"required"`
	EventType    string    `validate:"required"`
	EnvelopeType string    `validate:"required"`
	EnvelopeJSON json.RawMessage `validate:"required"`
	MetadataJSON json.RawMessage
	ScopeJSON    json.RawMessage
	StreamID     *string
	IsEvent      bool
	ScheduledFor *time.Time
}

// Completion reports that the given stages of a row finished
// successfully; Status is OR'd onto the persisted row.
type Completion struct {
	MessageID uuid.UUID
	Status    StatusFlags
}

// Failure reports that processing of a row failed after completing the
// stages in Status (the pre-failure mask).
type Failure struct {
	MessageID uuid.UUID
	Status    StatusFlags
	Error     string
	Reason    string
}

// ReceptorCompletion / ReceptorFailure report outcomes of application
// event-handlers ("receptors") invoked for an inbox event.
type ReceptorCompletion struct {
	MessageID    uuid.UUID
	ReceptorName string
}

type ReceptorFailure struct {
	MessageID    uuid.UUID
	ReceptorName string
	Error        string
	Reason       string
}

// PerspectiveCompletion / PerspectiveFailure report the out-of-band
// perspective checkpoint progress described in spec §4.1.
type PerspectiveCompletion struct {
	StreamID        string
	PerspectiveName string
	LastEventID     uuid.UUID
}

type PerspectiveFailure struct {
	StreamID        string
	PerspectiveName string
	EventID         uuid.UUID
	Error           string
}

// BatchRequest is the single input to ProcessWorkBatch (spec §4.1).
type BatchRequest struct {
	Instance ServiceInstance `validate:"required"`

	NewOutbox []NewOutboxMessage
	NewInbox  []NewInboxMessage

	RenewOutbox []uuid.UUID
	RenewInbox  []uuid.UUID

	OutboxCompletions   []Completion
	InboxCompletions    []Completion
	ReceptorCompletions []ReceptorCompletion

	PerspectiveCompletions []PerspectiveCompletion

	OutboxFailures   []Failure
	InboxFailures    []Failure
	ReceptorFailures []ReceptorFailure

	PerspectiveFailures []PerspectiveFailure

	Config BatchConfig
}

// OutboxWorkItem is one claimed outbox row returned to the caller.
type OutboxWorkItem struct {
	MessageID       uuid.UUID
	Destination     string
	EventType       string
	EnvelopeType    string
	EnvelopeJSON    json.RawMessage
	MetadataJSON    json.RawMessage
	ScopeJSON       json.RawMessage
	StreamID        *string
	PartitionNumber *int
	IsEvent         bool
	Status          StatusFlags
	Attempts        int
	Flags           WorkItemFlags
	SequenceOrder   int64
}

// InboxWorkItem is one claimed inbox row returned to the caller.
type InboxWorkItem struct {
	MessageID       uuid.UUID
	HandlerName     string
	EventType       string
	EnvelopeType    string
	EnvelopeJSON    json.RawMessage
	MetadataJSON    json.RawMessage
	ScopeJSON       json.RawMessage
	StreamID        *string
	PartitionNumber *int
	IsEvent         bool
	Status          StatusFlags
	Attempts        int
	Flags           WorkItemFlags
	SequenceOrder   int64
}

// PerspectiveWorkItem is one stream+projection pair that has events
// newer than its last checkpoint.
type PerspectiveWorkItem struct {
	StreamID        string
	PerspectiveName string
	LastEventID     *uuid.UUID // nil means "from the beginning"
}

// BatchItemError is a per-message failure surfaced alongside an
// otherwise-committed batch (e.g. an optimistic-concurrency collision
// on a single event append).
type BatchItemError struct {
	MessageID uuid.UUID
	Kind      ErrKind
	Err       error
}

// WorkBatch is ProcessWorkBatch's single return value: three ordered
// lists of work plus any per-message errors from this call.
type WorkBatch struct {
	Outbox       []OutboxWorkItem
	Inbox        []InboxWorkItem
	Perspectives []PerspectiveWorkItem
	Errors       []BatchItemError
}
