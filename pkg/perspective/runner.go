package perspective

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// EventReader is the read-only event-store surface the runner needs.
// Satisfied by *coordinator.Coordinator's EventsAfter.
type EventReader interface {
	EventsAfter(ctx context.Context, streamID string, afterEventID *uuid.UUID) ([]models.EventRow, error)
}

// Reporter is the out-of-band checkpoint-reporting surface. Satisfied
// by *coordinator.Coordinator's ReportPerspectiveCompletion/Failure.
type Reporter interface {
	ReportPerspectiveCompletion(ctx context.Context, streamID, perspectiveName string, lastEventID uuid.UUID) error
	ReportPerspectiveFailure(ctx context.Context, streamID, perspectiveName string, eventID uuid.UUID, errMsg string) error
}

// Runner folds PerspectiveWork items (§4.5) through their registered
// projection and reports the outcome. It holds no in-memory state
// across calls — every Process call is independent, matching the "no
// shared in-memory state between instances" rule in §5.
type Runner struct {
	reader   EventReader
	reporter Reporter
	registry *Registry
	store    Store
}

// NewRunner builds a Runner.
func NewRunner(reader EventReader, reporter Reporter, registry *Registry, store Store) *Runner {
	return &Runner{reader: reader, reporter: reporter, registry: registry, store: store}
}

// Process folds every item in items through its projection, in
// parallel across items (each is an independent stream+projection
// pair with no ordering relationship to any other — only the events
// within a single item are processed in order).
func (r *Runner) Process(ctx context.Context, items []models.PerspectiveWorkItem) {
	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(it models.PerspectiveWorkItem) {
			defer wg.Done()
			r.processOne(ctx, it)
		}(it)
	}
	wg.Wait()
}

func (r *Runner) processOne(ctx context.Context, it models.PerspectiveWorkItem) {
	proj, ok := r.registry.Lookup(it.PerspectiveName)
	if !ok {
		_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, uuid.Nil,
			fmt.Sprintf("no projection registered as %q", it.PerspectiveName))
		return
	}

	events, err := r.reader.EventsAfter(ctx, it.StreamID, it.LastEventID)
	if err != nil {
		_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, uuid.Nil, err.Error())
		return
	}
	if len(events) == 0 {
		return
	}

	state, ok, err := r.store.Load(ctx, it.PerspectiveName, it.StreamID)
	if err != nil {
		_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, events[0].EventID, err.Error())
		return
	}
	if !ok {
		state = proj.Zero()
	}

	lastGood := it.LastEventID
	for _, ev := range events {
		next, applyErr := proj.Apply(state, ev)
		if applyErr != nil {
			if saveErr := r.store.Save(ctx, it.PerspectiveName, it.StreamID, state); saveErr != nil {
				_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, ev.EventID, saveErr.Error())
				return
			}
			_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, ev.EventID, applyErr.Error())
			return
		}
		state = next
		eventID := ev.EventID
		lastGood = &eventID
	}

	if err := r.store.Save(ctx, it.PerspectiveName, it.StreamID, state); err != nil {
		_ = r.reporter.ReportPerspectiveFailure(ctx, it.StreamID, it.PerspectiveName, events[len(events)-1].EventID, err.Error())
		return
	}
	_ = r.reporter.ReportPerspectiveCompletion(ctx, it.StreamID, it.PerspectiveName, *lastGood)
}
