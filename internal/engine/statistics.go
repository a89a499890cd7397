package engine

import (
	"panel-tracker/internal/types"
)

// GetWorkflowStatistics 统计各状态面板数和各工站队列长度
// 持有排他锁，统计期间没有任何变更在进行
func (e *WorkflowEngine) GetWorkflowStatistics() types.StatisticsSnapshot {
	e.gate.Lock()
	defer e.gate.Unlock()

	snap := types.StatisticsSnapshot{
		StateCounts:  make(map[types.State]int, len(types.States)),
		StatusCounts: make(map[types.Status]int, 3),
		QueueCounts:  e.queues.Lengths(),
		Timestamp:    e.now(),
	}
	for _, s := range types.States {
		snap.StateCounts[s] = 0
	}
	for _, s := range []types.Status{types.StatusActive, types.StatusCompleted, types.StatusFailed} {
		snap.StatusCounts[s] = 0
	}

	snap.TotalPanels = e.registry.Len()
	for _, inst := range e.registry.snapshot() {
		snap.StateCounts[inst.CurrentState]++
		snap.StatusCounts[inst.Status]++
	}
	return snap
}
