package perspective

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// counterProjection sums up events whose EventType is "increment";
// state is a JSON integer.
type counterProjection struct{}

func (counterProjection) Name() string         { return "counter" }
func (counterProjection) Zero() json.RawMessage { return json.RawMessage("0") }
func (counterProjection) Apply(state json.RawMessage, event models.EventRow) (json.RawMessage, error) {
	var n int
	if err := json.Unmarshal(state, &n); err != nil {
		return nil, err
	}
	if event.EventType == "boom" {
		return nil, fmt.Errorf("boom event")
	}
	n++
	return json.Marshal(n)
}

type fakeReader struct {
	events map[string][]models.EventRow
}

func (f *fakeReader) EventsAfter(_ context.Context, streamID string, afterEventID *uuid.UUID) ([]models.EventRow, error) {
	all := f.events[streamID]
	if afterEventID == nil {
		return all, nil
	}
	for i, e := range all {
		if e.EventID == *afterEventID {
			return all[i+1:], nil
		}
	}
	return all, nil
}

type report struct {
	streamID, perspectiveName string
	eventID                   uuid.UUID
	failed                    bool
	errMsg                    string
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (f *fakeReporter) ReportPerspectiveCompletion(_ context.Context, streamID, perspectiveName string, lastEventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{streamID: streamID, perspectiveName: perspectiveName, eventID: lastEventID})
	return nil
}

func (f *fakeReporter) ReportPerspectiveFailure(_ context.Context, streamID, perspectiveName string, eventID uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{streamID: streamID, perspectiveName: perspectiveName, eventID: eventID, failed: true, errMsg: errMsg})
	return nil
}

type memStore struct {
	mu    sync.Mutex
	state map[string]json.RawMessage
}

func newMemStore() *memStore { return &memStore{state: make(map[string]json.RawMessage)} }

func (m *memStore) key(perspectiveName, streamID string) string { return perspectiveName + "/" + streamID }

func (m *memStore) Load(_ context.Context, perspectiveName, streamID string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[m.key(perspectiveName, streamID)]
	return s, ok, nil
}

func (m *memStore) Save(_ context.Context, perspectiveName, streamID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[m.key(perspectiveName, streamID)] = state
	return nil
}

func TestRunnerAppliesEventsAndReportsCompletion(t *testing.T) {
	streamID := "stream-1"
	e1, e2 := uuid.New(), uuid.New()
	reader := &fakeReader{events: map[string][]models.EventRow{
		streamID: {
			{EventID: e1, StreamID: streamID, Version: 0, EventType: "increment"},
			{EventID: e2, StreamID: streamID, Version: 1, EventType: "increment"},
		},
	}}
	reporter := &fakeReporter{}
	store := newMemStore()
	reg := NewRegistry()
	reg.Register(counterProjection{})

	r := NewRunner(reader, reporter, reg, store)
	r.Process(context.Background(), []models.PerspectiveWorkItem{{StreamID: streamID, PerspectiveName: "counter"}})

	state, ok, err := store.Load(context.Background(), "counter", streamID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage("2"), state)

	require.Len(t, reporter.reports, 1)
	assert.False(t, reporter.reports[0].failed)
	assert.Equal(t, e2, reporter.reports[0].eventID)
}

func TestRunnerReportsFailureAtFailingEventAndKeepsPriorState(t *testing.T) {
	streamID := "stream-1"
	e1, e2, e3 := uuid.New(), uuid.New(), uuid.New()
	reader := &fakeReader{events: map[string][]models.EventRow{
		streamID: {
			{EventID: e1, StreamID: streamID, Version: 0, EventType: "increment"},
			{EventID: e2, StreamID: streamID, Version: 1, EventType: "boom"},
			{EventID: e3, StreamID: streamID, Version: 2, EventType: "increment"},
		},
	}}
	reporter := &fakeReporter{}
	store := newMemStore()
	reg := NewRegistry()
	reg.Register(counterProjection{})

	r := NewRunner(reader, reporter, reg, store)
	r.Process(context.Background(), []models.PerspectiveWorkItem{{StreamID: streamID, PerspectiveName: "counter"}})

	state, ok, err := store.Load(context.Background(), "counter", streamID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage("1"), state, "state from e1 persisted, e3 never reached")

	require.Len(t, reporter.reports, 1)
	assert.True(t, reporter.reports[0].failed)
	assert.Equal(t, e2, reporter.reports[0].eventID)
}

func TestRunnerSkipsUnregisteredProjection(t *testing.T) {
	reporter := &fakeReporter{}
	r := NewRunner(&fakeReader{}, reporter, NewRegistry(), newMemStore())

	r.Process(context.Background(), []models.PerspectiveWorkItem{{StreamID: "s", PerspectiveName: "missing"}})

	require.Len(t, reporter.reports, 1)
	assert.True(t, reporter.reports[0].failed)
}

func TestRunnerNoNewEventsIsANoOp(t *testing.T) {
	reporter := &fakeReporter{}
	reader := &fakeReader{events: map[string][]models.EventRow{}}
	reg := NewRegistry()
	reg.Register(counterProjection{})

	r := NewRunner(reader, reporter, reg, newMemStore())
	r.Process(context.Background(), []models.PerspectiveWorkItem{{StreamID: "s", PerspectiveName: "counter"}})

	assert.Empty(t, reporter.reports)
}
