// Package perspective implements the Perspective Runner (§4.5): for
// each PerspectiveWork item the coordinator hands back, read the
// stream's events since the last checkpoint, fold them through a
// registered projection's pure Apply function, persist the result,
// and report a checkpoint completion or failure back to the
// coordinator. The runner never writes to the event store — it only
// reads from pkg/coordinator's EventsAfter and reports through
// ReportPerspectiveCompletion/ReportPerspectiveFailure.
package perspective

import (
	"encoding/json"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// Projection folds one event at a time into a JSON-serializable state
// value. Apply must be pure and deterministic and must not perform
// I/O; all persistence is the runner's job, not the projection's.
type Projection interface {
	// Name identifies this projection in the checkpoint table and the
	// shared perspective state store.
	Name() string
	// Zero returns the starting state for a stream with no prior
	// checkpoint.
	Zero() json.RawMessage
	// Apply returns the state that results from folding event into
	// state. A returned error aborts the fold at this event; state
	// accumulated from earlier events in the same run is still
	// persisted, and the event that failed is reported as the
	// checkpoint failure point.
	Apply(state json.RawMessage, event models.EventRow) (json.RawMessage, error)
}

// ApplyFunc adapts a plain function to Projection for projections with
// no extra state of their own.
type ApplyFunc struct {
	ProjectionName string
	ZeroValue      json.RawMessage
	ApplyFn        func(state json.RawMessage, event models.EventRow) (json.RawMessage, error)
}

func (f ApplyFunc) Name() string            { return f.ProjectionName }
func (f ApplyFunc) Zero() json.RawMessage    { return f.ZeroValue }
func (f ApplyFunc) Apply(state json.RawMessage, event models.EventRow) (json.RawMessage, error) {
	return f.ApplyFn(state, event)
}

var _ Projection = ApplyFunc{}
