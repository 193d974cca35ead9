package models

import "strings"

// StatusFlags is the combinable bitmask carried by every inbox/outbox
// row (spec §3 "Status flags"). A failure row carries the stages that
// succeeded before failure so retries can skip them.
type StatusFlags uint32

// Individual status bits. Failed is deliberately far from the others
// so future stage bits can be added without colliding with it.
const (
	StatusStored      StatusFlags = 1 << 0
	StatusEventStored StatusFlags = 1 << 1
	StatusPublished   StatusFlags = 1 << 2
	StatusFailed      StatusFlags = 0x8000
)

// Has reports whether every bit in want is set.
func (s StatusFlags) Has(want StatusFlags) bool {
	return s&want == want
}

// Any reports whether at least one bit in want is set.
func (s StatusFlags) Any(want StatusFlags) bool {
	return s&want != 0
}

// With returns s with the given bits OR'd in — mirrors §4.1 step 6's
// "bitwise-OR the reported status mask onto the persisted row".
func (s StatusFlags) With(bits StatusFlags) StatusFlags {
	return s | bits
}

// String renders the set flags for logging, e.g. "Stored|EventStored".
func (s StatusFlags) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s.Has(StatusStored) {
		parts = append(parts, "Stored")
	}
	if s.Has(StatusEventStored) {
		parts = append(parts, "EventStored")
	}
	if s.Has(StatusPublished) {
		parts = append(parts, "Published")
	}
	if s.Has(StatusFailed) {
		parts = append(parts, "Failed")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// WorkItemFlags describes provenance of a returned work item: newly
// stored this batch, or an orphaned reclaim from a lease that expired
// while held by another (possibly dead) instance.
type WorkItemFlags uint32

const (
	FlagNewlyStored WorkItemFlags = 1 << 0
	FlagOrphaned    WorkItemFlags = 1 << 1
)

func (f WorkItemFlags) Has(want WorkItemFlags) bool {
	return f&want == want
}

// BatchFlags controls ProcessWorkBatch's own behaviour for the call,
// as opposed to WorkItemFlags which describe an individual row.
type BatchFlags uint32

const (
	// DebugMode retains terminal rows (preserving status flags) instead
	// of deleting them on success.
	DebugMode BatchFlags = 1 << 0
)

func (f BatchFlags) Has(want BatchFlags) bool {
	return f&want == want
}
