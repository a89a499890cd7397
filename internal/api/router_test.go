package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-tracker/internal/engine"
	"panel-tracker/internal/types"
	"panel-tracker/internal/util"
	"panel-tracker/internal/web"
)

func newTestRouter(t *testing.T) (*gin.Engine, *engine.WorkflowEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.NewWorkflowEngine(nil, nil, nil, logger)
	srv := NewServer(eng, web.NewStateTracker(nil), nil, logger)
	return srv.Router(), eng
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAPI_PanelLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/panels", gin.H{"panel_id": "P1", "barcode": "BC-0001", "panel_type": "144"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inst := decode[types.WorkflowInstance](t, w)
	assert.Equal(t, types.Line2, inst.Line)
	assert.Equal(t, types.StateScanned, inst.CurrentState)

	w = doJSON(t, r, http.MethodGet, "/api/panels/P1/transitions/VALIDATED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["valid"])

	for _, target := range []types.State{types.StateValidated, types.StateAssemblyEL} {
		w = doJSON(t, r, http.MethodPost, "/api/panels/P1/transitions", gin.H{"target_state": target, "reason": "line entry"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "P1", decode[NextPanelResponse](t, w).PanelID)

	for _, station := range []types.StationID{types.Station1, types.Station2, types.Station3} {
		w = doJSON(t, r, http.MethodPost, "/api/panels/P1/inspections", gin.H{
			"station_id":  station,
			"result":      "PASS",
			"criteria":    map[string]bool{"visual": true},
			"operator_id": "op-1",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_5/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"P1"}, decode[QueueResponse](t, w).Panels)

	w = doJSON(t, r, http.MethodPost, "/api/panels/P1/complete", gin.H{"quality_score": 97.5, "completion_notes": "A grade"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inst = decode[types.WorkflowInstance](t, w)
	assert.Equal(t, types.StatusCompleted, inst.Status)
	require.NotNil(t, inst.QualityScore)
	assert.Equal(t, 97.5, *inst.QualityScore)

	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_5/next", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[types.StatisticsSnapshot](t, w)
	assert.Equal(t, 1, stats.TotalPanels)
	assert.Equal(t, 1, stats.StateCounts[types.StateCompleted])
}

func TestAPI_InspectionFailReworks(t *testing.T) {
	r, eng := newTestRouter(t)

	_, err := eng.InitializeWorkflow("P2", "BC-0002", engine.InitOptions{LineNumber: 1})
	require.NoError(t, err)
	for _, s := range []types.State{types.StateValidated, types.StateAssemblyEL, types.StateFraming} {
		_, err = eng.TransitionWorkflow("P2", s, engine.TransitionOptions{Reason: "setup"})
		require.NoError(t, err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/panels/P2/inspections", gin.H{
		"station_id":  "STATION_2",
		"result":      "FAIL",
		"criteria":    map[string]bool{"frame_alignment": false},
		"operator_id": "op-2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[types.InspectionResult](t, w)
	assert.Equal(t, types.StateAssemblyEL, res.Outcome.NextState)
	assert.Equal(t, 1, res.ReworkCount)

	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/queue", nil)
	assert.Equal(t, []string{"P2"}, decode[QueueResponse](t, w).Panels)

	w = doJSON(t, r, http.MethodPost, "/api/panels/P2/fail", gin.H{"reason": "cracked glass"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StatusFailed, decode[types.WorkflowInstance](t, w).Status)

	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/queue", nil)
	assert.Empty(t, decode[QueueResponse](t, w).Panels)
}

func TestAPI_ErrorMapping(t *testing.T) {
	r, eng := newTestRouter(t)
	_, err := eng.InitializeWorkflow("P3", "BC-0003", engine.InitOptions{LineNumber: 1})
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown panel", http.MethodGet, "/api/panels/NOPE", nil, http.StatusNotFound},
		{"duplicate panel", http.MethodPost, "/api/panels", gin.H{"panel_id": "P3", "barcode": "X", "line_number": 1}, http.StatusConflict},
		{"missing line", http.MethodPost, "/api/panels", gin.H{"panel_id": "P4", "barcode": "X"}, http.StatusBadRequest},
		{"missing barcode", http.MethodPost, "/api/panels", gin.H{"panel_id": "P4"}, http.StatusBadRequest},
		{"skipped state", http.MethodPost, "/api/panels/P3/transitions", gin.H{"target_state": "FRAMING", "reason": "skip"}, http.StatusConflict},
		{"missing reason", http.MethodPost, "/api/panels/P3/transitions", gin.H{"target_state": "VALIDATED"}, http.StatusBadRequest},
		{"unknown station", http.MethodGet, "/api/stations/STATION_9/queue", nil, http.StatusNotFound},
		{"wrong station", http.MethodPost, "/api/panels/P3/inspections", gin.H{"station_id": "STATION_1", "result": "PASS", "criteria": map[string]bool{"el": true}, "operator_id": "op"}, http.StatusNotFound},
		{"no operator", http.MethodPost, "/api/panels/P3/inspections", gin.H{"station_id": "STATION_1", "result": "PASS", "criteria": map[string]bool{"el": true}}, http.StatusBadRequest},
		{"complete too early", http.MethodPost, "/api/panels/P3/complete", gin.H{"quality_score": 80}, http.StatusConflict},
		{"complete without score", http.MethodPost, "/api/panels/P3/complete", gin.H{}, http.StatusBadRequest},
		{"rework outside station", http.MethodPost, "/api/panels/P3/rework", gin.H{"station_id": "STATION_1", "reason": "x"}, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]interface{}](t, w), "error")
		})
	}
}

func TestAPI_StationQueueEndpointsAndReset(t *testing.T) {
	r, eng := newTestRouter(t)
	for _, id := range []string{"A", "B"} {
		_, err := eng.InitializeWorkflow(id, "BC-"+id, engine.InitOptions{LineNumber: 1})
		require.NoError(t, err)
		for _, s := range []types.State{types.StateValidated, types.StateAssemblyEL} {
			_, err = eng.TransitionWorkflow(id, s, engine.TransitionOptions{Reason: "line entry"})
			require.NoError(t, err)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/queue", nil)
	assert.Equal(t, []string{"A", "B"}, decode[QueueResponse](t, w).Panels)

	w = doJSON(t, r, http.MethodDelete, "/api/stations/STATION_1/queue/A", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/next", nil)
	assert.Equal(t, "B", decode[NextPanelResponse](t, w).PanelID)

	w = doJSON(t, r, http.MethodPost, "/api/stations/STATION_1/queue", gin.H{"panel_id": "A"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	doJSON(t, r, http.MethodPost, "/api/stations/STATION_1/queue", gin.H{"panel_id": "A"})
	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/queue", nil)
	assert.Equal(t, []string{"B", "A"}, decode[QueueResponse](t, w).Panels)

	w = doJSON(t, r, http.MethodPost, "/api/stations/STATION_1/queue", gin.H{"panel_id": "GHOST"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, r, http.MethodPost, "/api/stations/STATION_3/queue", gin.H{"panel_id": "A"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_3/queue", nil)
	assert.Empty(t, decode[QueueResponse](t, w).Panels)

	w = doJSON(t, r, http.MethodPost, "/api/admin/reset", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/stations/STATION_1/next", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAPI_TraceHeader(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/statistics", nil)
	req.Header.Set(util.TraceHeader, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get(util.TraceHeader))

	w = doJSON(t, r, http.MethodGet, "/api/board", nil)
	assert.NotEmpty(t, w.Header().Get(util.TraceHeader))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
