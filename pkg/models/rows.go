package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ServiceInstance is the explicit identity passed into every coordinator
// call (spec §9 design note: "implicit ambient service-instance
// identity" becomes an explicit value, never read from ambient state).
type ServiceInstance struct {
	ID          string         `json:"id"`
	ServiceName string         `json:"service_name" validate:"required"`
	HostName    string         `json:"host_name" validate:"required"`
	ProcessID   int            `json:"process_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// OutboxRow is the persisted shape of a message destined for the
// transport. See spec §3 "Outbox row".
type OutboxRow struct {
	MessageID       uuid.UUID       `db:"message_id"`
	Destination     string          `db:"destination"`
	EventType       string          `db:"event_type"`
	EnvelopeType    string          `db:"envelope_type"`
	EnvelopeJSON    json.RawMessage `db:"envelope_json"`
	MetadataJSON    json.RawMessage `db:"metadata_json"`
	ScopeJSON       json.RawMessage `db:"scope_json"`
	StreamID        *string         `db:"stream_id"`
	PartitionNumber *int            `db:"partition_number"`
	IsEvent         bool            `db:"is_event"`
	Status          StatusFlags     `db:"status"`
	Attempts        int             `db:"attempts"`
	InstanceID      *string         `db:"instance_id"`
	LeaseExpiry     *time.Time      `db:"lease_expiry"`
	FailureReason   string          `db:"failure_reason"`
	ScheduledFor    *time.Time      `db:"scheduled_for"`
	PublishedAt     *time.Time      `db:"published_at"`
	CreatedAt       time.Time       `db:"created_at"`
}

// SequenceOrder derives the ordering key from CreatedAt in milliseconds,
// per spec §4.1 step 11.
func (r OutboxRow) SequenceOrder() int64 {
	return r.CreatedAt.UnixMilli()
}

// InboxRow is the persisted shape of a message received from the
// transport. Same shape as OutboxRow but with HandlerName instead of
// Destination and ReceivedAt/ProcessedAt instead of CreatedAt/PublishedAt.
type InboxRow struct {
	MessageID       uuid.UUID       `db:"message_id"`
	HandlerName     string          `db:"handler_name"`
	EventType       string          `db:"event_type"`
	EnvelopeType    string          `db:"envelope_type"`
	EnvelopeJSON    json.RawMessage `db:"envelope_json"`
	MetadataJSON    json.RawMessage `db:"metadata_json"`
	ScopeJSON       json.RawMessage `db:"scope_json"`
	StreamID        *string         `db:"stream_id"`
	PartitionNumber *int            `db:"partition_number"`
	IsEvent         bool            `db:"is_event"`
	Status          StatusFlags     `db:"status"`
	Attempts        int             `db:"attempts"`
	InstanceID      *string         `db:"instance_id"`
	LeaseExpiry     *time.Time      `db:"lease_expiry"`
	FailureReason   string          `db:"failure_reason"`
	ScheduledFor    *time.Time      `db:"scheduled_for"`
	ReceivedAt      time.Time       `db:"received_at"`
	ProcessedAt     *time.Time      `db:"processed_at"`
}

func (r InboxRow) SequenceOrder() int64 {
	return r.ReceivedAt.UnixMilli()
}

// EventRow is one append-only event-store record. (stream_id, version)
// is unique; versions within a stream are contiguous from 0.
type EventRow struct {
	EventID   uuid.UUID       `db:"event_id"`
	StreamID  string          `db:"stream_id"`
	Version   int64           `db:"version"`
	EventType string          `db:"event_type"`
	EventData json.RawMessage `db:"event_data"`
	Metadata  json.RawMessage `db:"metadata"`
	Scope     json.RawMessage `db:"scope"`
	CreatedAt time.Time       `db:"created_at"`
}

// PerspectiveCheckpoint is the per (stream, projection) cursor over the
// event log.
type PerspectiveCheckpoint struct {
	StreamID        string     `db:"stream_id"`
	PerspectiveName string     `db:"perspective_name"`
	LastEventID     *uuid.UUID `db:"last_event_id"`
	Status          string     `db:"status"`
	ProcessedAt     time.Time  `db:"processed_at"`
	Error           *string    `db:"error"`
}

// Checkpoint status values.
const (
	CheckpointStatusOK     = "ok"
	CheckpointStatusFailed = "failed"
)

// DedupRow is a permanent record of every inbox message id ever seen.
// Never deleted by the core (see PruneDedup for an opt-in exception).
type DedupRow struct {
	MessageID   uuid.UUID `db:"message_id"`
	FirstSeenAt time.Time `db:"first_seen_at"`
}

// ActiveStreamRow tracks sticky ownership of a stream.
type ActiveStreamRow struct {
	StreamID           string     `db:"stream_id"`
	PartitionNumber    int        `db:"partition_number"`
	AssignedInstanceID *string    `db:"assigned_instance_id"`
	LeaseExpiry        *time.Time `db:"lease_expiry"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// ServiceInstanceRow is the persisted heartbeat record for a caller.
type ServiceInstanceRow struct {
	InstanceID    string          `db:"instance_id"`
	ServiceName   string          `db:"service_name"`
	HostName      string          `db:"host_name"`
	ProcessID     int             `db:"process_id"`
	MetadataJSON  json.RawMessage `db:"metadata"`
	LastHeartbeat time.Time       `db:"last_heartbeat"`
}

// FailedWorkRow is one permanently-failed outbox or inbox row, surfaced
// by pkg/coordinator.FailedWork for the admin/debug HTTP surface — the
// "surface externally" half of the MaxAttemptsExceeded error kind.
type FailedWorkRow struct {
	Table         string    `db:"table" json:"table"`
	MessageID     uuid.UUID `db:"message_id" json:"message_id"`
	Destination   string    `db:"destination" json:"destination,omitempty"`
	HandlerName   string    `db:"handler_name" json:"handler_name,omitempty"`
	StreamID      *string   `db:"stream_id" json:"stream_id,omitempty"`
	Attempts      int       `db:"attempts" json:"attempts"`
	FailureReason string    `db:"failure_reason" json:"failure_reason"`
}
