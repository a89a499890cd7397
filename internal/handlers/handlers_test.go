package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-tracker/internal/event"
	"panel-tracker/internal/metrics"
	"panel-tracker/internal/persistence"
	"panel-tracker/internal/types"
	"panel-tracker/internal/web"
)

type memJournal struct {
	mu      sync.Mutex
	entries []persistence.LogEntry
	err     error
}

func (m *memJournal) Append(entry persistence.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memJournal) snapshot() []persistence.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]persistence.LogEntry(nil), m.entries...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterEventHandlers_FanOut(t *testing.T) {
	bus := event.NewBus()
	tracker := web.NewStateTracker(nil)
	journal := &memJournal{}
	RegisterEventHandlers(bus, tracker, journal, testLogger())

	created := time.Now().Add(-10 * time.Minute)
	completed := created.Add(8 * time.Minute)
	inst := types.WorkflowInstance{
		PanelID:      "P-HANDLER-1",
		Line:         types.Line1,
		CurrentState: types.StateCompleted,
		Status:       types.StatusCompleted,
		CreatedAt:    created,
		CompletedAt:  &completed,
		Revision:     9,
	}
	entry := types.HistoryEntry{FromState: types.StatePerformanceFinal, ToState: types.StateCompleted, Reason: "done"}

	transitions := testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("PERFORMANCE_FINAL", "COMPLETED"))
	finished := testutil.ToFloat64(metrics.PanelsFinishedTotal.WithLabelValues("COMPLETED", "LINE_1"))

	bus.Publish(event.Event{Type: event.TransitionRecorded, PanelID: inst.PanelID, Instance: &inst, Entry: &entry})
	bus.Publish(event.Event{Type: event.WorkflowCompleted, PanelID: inst.PanelID, Instance: &inst})
	bus.Drain()

	assert.Equal(t, transitions+1, testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("PERFORMANCE_FINAL", "COMPLETED")))
	assert.Equal(t, finished+1, testutil.ToFloat64(metrics.PanelsFinishedTotal.WithLabelValues("COMPLETED", "LINE_1")))

	board := tracker.GetStateSnapshot()
	require.Contains(t, board.Panels, "P-HANDLER-1")
	assert.Equal(t, types.StatusCompleted, board.Panels["P-HANDLER-1"].Status)

	entries := journal.snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, persistence.EntryEvent, e.Type)
		assert.Equal(t, "P-HANDLER-1", e.PanelID)
		require.NotNil(t, e.Instance)
	}

	bus.Publish(event.Event{Type: event.RegistryReset, Seq: 42})
	bus.Drain()

	assert.Empty(t, tracker.GetStateSnapshot().Panels)
	entries = journal.snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, persistence.EntryReset, entries[2].Type)
	assert.Equal(t, uint64(42), entries[2].Seq)
}

func TestRegisterEventHandlers_InspectionAndRework(t *testing.T) {
	bus := event.NewBus()
	RegisterEventHandlers(bus, nil, nil, testLogger())

	inspections := testutil.ToFloat64(metrics.InspectionsTotal.WithLabelValues("STATION_3", "FAIL"))
	reworks := testutil.ToFloat64(metrics.ReworksTotal.WithLabelValues("STATION_3"))

	inst := types.WorkflowInstance{PanelID: "P-HANDLER-2", Line: types.Line1, CurrentState: types.StateAssemblyEL, Status: types.StatusActive, ReworkCount: 1}
	bus.Publish(event.Event{Type: event.ReworkTriggered, PanelID: inst.PanelID, StationID: types.Station3, Instance: &inst})
	bus.Publish(event.Event{
		Type:      event.InspectionRecorded,
		PanelID:   inst.PanelID,
		StationID: types.Station3,
		Instance:  &inst,
		Outcome:   &types.InspectionOutcome{Result: types.VerdictFail},
	})
	bus.Drain()

	assert.Equal(t, inspections+1, testutil.ToFloat64(metrics.InspectionsTotal.WithLabelValues("STATION_3", "FAIL")))
	assert.Equal(t, reworks+1, testutil.ToFloat64(metrics.ReworksTotal.WithLabelValues("STATION_3")))
}

func TestRegisterEventHandlers_JournalFailureDoesNotPanic(t *testing.T) {
	bus := event.NewBus()
	journal := &memJournal{err: errors.New("disk full")}
	tracker := web.NewStateTracker(nil)
	RegisterEventHandlers(bus, tracker, journal, testLogger())

	inst := types.WorkflowInstance{PanelID: "P-HANDLER-3", Line: types.Line2, CurrentState: types.StateScanned, Status: types.StatusActive}
	bus.Publish(event.Event{Type: event.WorkflowInitialized, PanelID: inst.PanelID, Instance: &inst})
	bus.Drain()

	assert.Empty(t, journal.snapshot())
	assert.Contains(t, tracker.GetStateSnapshot().Panels, "P-HANDLER-3")
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) GetWorkflowStatistics() types.StatisticsSnapshot {
	c.calls.Add(1)
	return types.StatisticsSnapshot{
		QueueCounts: map[types.StationID]int{types.Station5: 4},
		StateCounts: map[types.State]int{types.StatePerformanceFinal: 4},
		Timestamp:   time.Now(),
	}
}

func TestRunStatsReporter(t *testing.T) {
	src := &countingSource{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStatsReporter(ctx, src, 5*time.Millisecond, testLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop after cancel")
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.StationQueueLength.WithLabelValues("STATION_5")))
}
