package web

import (
	"sync"
	"time"

	"panel-tracker/internal/fsm"
	"panel-tracker/internal/types"
)

// PanelView 定义了用于看板展示的面板状态
// 这是一个简化的视图，只包含前端需要的数据
type PanelView struct {
	ID          string          `json:"id"`
	Barcode     string          `json:"barcode"`
	Line        types.Line      `json:"line"`
	State       types.State     `json:"state"`
	Status      types.Status    `json:"status"`
	Station     types.StationID `json:"station,omitempty"`
	ReworkCount int             `json:"rework_count"`
	Revision    int             `json:"revision"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BoardState 代表整个车间看板的实时状态快照
type BoardState struct {
	Panels map[string]PanelView `json:"panels"`
}

// StateTracker 负责追踪所有面板的看板状态，并通知前端更新
type StateTracker struct {
	mu    sync.RWMutex
	state BoardState
	hub   *Hub
	table *fsm.Table
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(hub *Hub) *StateTracker {
	return &StateTracker{
		state: BoardState{Panels: make(map[string]PanelView)},
		hub:   hub,
		table: fsm.NewTable(),
	}
}

// Upsert 用实例快照更新看板，并向所有客户端广播最新的全局状态
// 事件处理器是异步的，旧版本的快照不会覆盖新版本
func (st *StateTracker) Upsert(inst types.WorkflowInstance) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if cur, ok := st.state.Panels[inst.PanelID]; ok && cur.Revision > inst.Revision {
		return
	}

	view := PanelView{
		ID:          inst.PanelID,
		Barcode:     inst.Barcode,
		Line:        inst.Line,
		State:       inst.CurrentState,
		Status:      inst.Status,
		ReworkCount: inst.ReworkCount,
		Revision:    inst.Revision,
		UpdatedAt:   inst.UpdatedAt,
	}
	if inst.Status == types.StatusActive {
		if station, ok := st.table.StationFor(inst.Line, inst.CurrentState); ok {
			view.Station = station
		}
	}
	st.state.Panels[inst.PanelID] = view
	st.broadcast()
}

// Clear 清空看板
func (st *StateTracker) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Panels = make(map[string]PanelView)
	st.broadcast()
}

func (st *StateTracker) broadcast() {
	if st.hub != nil {
		st.hub.BroadcastState(st.state)
	}
}

// GetStateSnapshot 返回当前看板状态的一个拷贝
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() BoardState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	newState := BoardState{Panels: make(map[string]PanelView, len(st.state.Panels))}
	for id, p := range st.state.Panels {
		newState.Panels[id] = p
	}
	return newState
}
