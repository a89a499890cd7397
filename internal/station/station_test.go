package station

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-tracker/internal/types"
	"panel-tracker/internal/util"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulatedInspector(t *testing.T) {
	good := NewSimulatedInspector(types.Station2, "op-1", 0, 0)
	out, err := good.Inspect(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, types.VerdictPass, out.Result)
	assert.Equal(t, types.Station2, out.StationID)
	assert.Len(t, out.Criteria, len(CriteriaFor(types.Station2)))
	assert.Empty(t, out.FailedCriteria())

	bad := NewSimulatedInspector(types.Station5, "op-2", 1, 0)
	out, err = bad.Inspect(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, out.Result)
	assert.Len(t, out.FailedCriteria(), 1)

	slow := NewSimulatedInspector(types.Station1, "op-3", 0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Inspect(ctx, "P1")
	// 耗时可能随机为 0，此时不会观察到取消
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	traces := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stations/STATION_1/next", func(w http.ResponseWriter, r *http.Request) {
		traces <- r.Header.Get(util.TraceHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"station_id":"STATION_1","panel_id":"P9"}`))
	})
	mux.HandleFunc("/api/stations/STATION_2/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/stations/STATION_9/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found: station STATION_9"}`))
	})
	mux.HandleFunc("/api/panels/P9/inspections", func(w http.ResponseWriter, r *http.Request) {
		var req inspectionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.OperatorID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"validation failed: operator id is required"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(types.InspectionResult{
			PanelID:   "P9",
			StationID: req.StationID,
			Outcome:   types.OutcomeSummary{Result: req.Result, NextState: types.StateFraming},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := NewClient(server.URL+"/", testLogger())
	ctx := util.ContextWithTraceID(context.Background(), "trace-abc")

	id, ok, err := c.NextPanel(ctx, types.Station1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "P9", id)
	assert.Equal(t, "trace-abc", <-traces)

	_, ok, err = c.NextPanel(ctx, types.Station2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.NextPanel(ctx, "STATION_9")
	assert.ErrorIs(t, err, types.ErrNotFound)

	res, err := c.SubmitInspection(ctx, "P9", types.InspectionOutcome{
		Result:     types.VerdictPass,
		Criteria:   map[string]bool{"el_microcracks": true},
		StationID:  types.Station1,
		OperatorID: "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateFraming, res.Outcome.NextState)

	_, err = c.SubmitInspection(ctx, "P9", types.InspectionOutcome{Result: types.VerdictPass, StationID: types.Station1})
	assert.ErrorIs(t, err, types.ErrValidation)
}

type fakeOrchestrator struct {
	mu        sync.Mutex
	queue     []string
	submitted []types.InspectionOutcome
	submitErr error
}

func (f *fakeOrchestrator) NextPanel(ctx context.Context, station types.StationID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return "", false, nil
	}
	return f.queue[0], true, nil
}

func (f *fakeOrchestrator) SubmitInspection(ctx context.Context, panelID string, outcome types.InspectionOutcome) (types.InspectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return types.InspectionResult{}, f.submitErr
	}
	f.queue = f.queue[1:]
	f.submitted = append(f.submitted, outcome)
	return types.InspectionResult{PanelID: panelID, Outcome: types.OutcomeSummary{Result: outcome.Result}}, nil
}

func (f *fakeOrchestrator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func TestTerminal_DrainsQueue(t *testing.T) {
	orch := &fakeOrchestrator{queue: []string{"P1", "P2", "P3"}}
	term := NewTerminal(orch, NewSimulatedInspector(types.Station3, "op-1", 0, 0), 5*time.Millisecond, testLogger())
	assert.NotEmpty(t, term.SessionID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	require.Eventually(t, func() bool { return orch.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTerminal_StepToleratesMovedPanel(t *testing.T) {
	orch := &fakeOrchestrator{queue: []string{"P1"}, submitErr: errors.Join(types.ErrStateConflict, errors.New("panel is FAILED"))}
	term := NewTerminal(orch, NewSimulatedInspector(types.Station1, "op-1", 0, 0), time.Second, testLogger())

	processed, err := term.Step(context.Background())
	assert.NoError(t, err)
	assert.False(t, processed)

	orch.submitErr = errors.New("connection refused")
	_, err = term.Step(context.Background())
	assert.Error(t, err)
}
