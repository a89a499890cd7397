package fsm

import (
	"panel-tracker/internal/types"
)

// stationStates 是所有"在工站加工中"的状态，返工边从这些状态回到 ASSEMBLY_EL
var stationStates = []types.State{
	types.StateAssemblyEL,
	types.StateFraming,
	types.StateJunctionBox,
	types.StatePerformanceFinal,
}

// Table 是静态的状态转移表
// 构建完成后只读，可以被所有面板和 goroutine 共享
type Table struct {
	// transitions 定义状态转移表: FromState -> 允许的 ToState 集合
	transitions map[types.State]map[types.State]struct{}
	// forward 定义主流程的前进边: FromState -> NextState
	forward map[types.State]types.State
	// routes 定义每条产线上加工状态对应的工站: Line -> State -> StationID
	routes map[types.Line]map[types.State]types.StationID
}

// NewTable 创建转移表
func NewTable() *Table {
	t := &Table{
		transitions: make(map[types.State]map[types.State]struct{}),
		forward:     make(map[types.State]types.State),
		routes:      make(map[types.Line]map[types.State]types.StationID),
	}
	t.initTransitions()
	t.initRoutes()
	return t
}

func (t *Table) initTransitions() {
	for i := 0; i < len(types.States)-1; i++ {
		t.addForward(types.States[i], types.States[i+1])
	}
	for _, s := range stationStates {
		t.addTransition(s, types.StateAssemblyEL) // 返工
	}
}

func (t *Table) initRoutes() {
	t.addRoute(types.Line1, types.StateAssemblyEL, types.Station1)
	t.addRoute(types.Line1, types.StateFraming, types.Station2)
	t.addRoute(types.Line1, types.StateJunctionBox, types.Station3)
	t.addRoute(types.Line1, types.StatePerformanceFinal, types.Station4)

	// 2 号线的 144 片大板在独立的功率测试台终检
	t.addRoute(types.Line2, types.StateAssemblyEL, types.Station1)
	t.addRoute(types.Line2, types.StateFraming, types.Station2)
	t.addRoute(types.Line2, types.StateJunctionBox, types.Station3)
	t.addRoute(types.Line2, types.StatePerformanceFinal, types.Station5)
}

func (t *Table) addForward(from, to types.State) {
	t.forward[from] = to
	t.addTransition(from, to)
}

func (t *Table) addTransition(from, to types.State) {
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[types.State]struct{})
	}
	t.transitions[from][to] = struct{}{}
}

func (t *Table) addRoute(line types.Line, state types.State, station types.StationID) {
	if _, ok := t.routes[line]; !ok {
		t.routes[line] = make(map[types.State]types.StationID)
	}
	t.routes[line][state] = station
}

// Allowed 判断 from -> to 是否是合法转移
func (t *Table) Allowed(from, to types.State) bool {
	_, ok := t.transitions[from][to]
	return ok
}

// Next 返回主流程上的下一个状态，终态没有下一个状态
func (t *Table) Next(from types.State) (types.State, bool) {
	next, ok := t.forward[from]
	return next, ok
}

// Targets 按流水线顺序返回 from 的所有合法目标状态
func (t *Table) Targets(from types.State) []types.State {
	var out []types.State
	for _, s := range types.States {
		if t.Allowed(from, s) {
			out = append(out, s)
		}
	}
	return out
}

// IsReworkEdge 判断 from -> to 是否是返工边
func (t *Table) IsReworkEdge(from, to types.State) bool {
	return to == types.StateAssemblyEL && IsStationState(from) && t.Allowed(from, to)
}

// StationFor 返回某条产线上加工状态对应的工站
func (t *Table) StationFor(line types.Line, state types.State) (types.StationID, bool) {
	station, ok := t.routes[line][state]
	return station, ok
}

// StateFor 返回某条产线上工站对应的加工状态
// 工站不在该产线的路线上时返回 false
func (t *Table) StateFor(line types.Line, station types.StationID) (types.State, bool) {
	for state, id := range t.routes[line] {
		if id == station {
			return state, true
		}
	}
	return "", false
}

// ReworkStation 返回某条产线的返工入口工站
func (t *Table) ReworkStation(line types.Line) types.StationID {
	return t.routes[line][types.StateAssemblyEL]
}

// IsStationState 判断状态是否是工站加工状态
func IsStationState(s types.State) bool {
	for _, st := range stationStates {
		if st == s {
			return true
		}
	}
	return false
}
