package queue

import (
	"fmt"
	"sync"

	"panel-tracker/internal/types"
)

// stationQueue 是单个工站的先进先出队列
type stationQueue struct {
	mu      sync.Mutex          // 保护 items 和 members，保证同一工站的增删原子
	items   []string            // 按到达顺序排列的面板 ID
	members map[string]struct{} // 用于去重
}

// Manager 管理所有工站的等待队列
// 工站集合在创建时固定，之后 queues 映射只读，因此不需要全局锁
type Manager struct {
	queues map[types.StationID]*stationQueue
	order  []types.StationID
}

// NewManager 为给定的工站集合创建队列
func NewManager(stations []types.StationID) *Manager {
	m := &Manager{
		queues: make(map[types.StationID]*stationQueue, len(stations)),
	}
	for _, id := range stations {
		if _, dup := m.queues[id]; dup {
			continue
		}
		m.queues[id] = &stationQueue{members: make(map[string]struct{})}
		m.order = append(m.order, id)
	}
	return m
}

func (m *Manager) queue(station types.StationID) (*stationQueue, error) {
	q, ok := m.queues[station]
	if !ok {
		return nil, fmt.Errorf("%w: station %s", types.ErrNotFound, station)
	}
	return q, nil
}

// Stations 按创建顺序返回工站列表
func (m *Manager) Stations() []types.StationID {
	return append([]types.StationID(nil), m.order...)
}

// Add 把面板追加到队尾，已在队列中时不重复插入
// 返回值表示是否真正插入
func (m *Manager) Add(station types.StationID, panelID string) (bool, error) {
	q, err := m.queue(station)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.members[panelID]; exists {
		return false, nil
	}
	q.items = append(q.items, panelID)
	q.members[panelID] = struct{}{}
	return true, nil
}

// Remove 移除面板，不在队列中时为空操作
func (m *Manager) Remove(station types.StationID, panelID string) (bool, error) {
	q, err := m.queue(station)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.members[panelID]; !exists {
		return false, nil
	}
	for i, id := range q.items {
		if id == panelID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.members, panelID)
	return true, nil
}

// Peek 返回队首面板但不移除，队列为空时 ok 为 false
func (m *Manager) Peek(station types.StationID) (panelID string, ok bool, err error) {
	q, err := m.queue(station)
	if err != nil {
		return "", false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false, nil
	}
	return q.items[0], true, nil
}

// Snapshot 返回队列的副本
func (m *Manager) Snapshot(station types.StationID) ([]string, error) {
	q, err := m.queue(station)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]string{}, q.items...), nil
}

// Lengths 返回所有工站的队列长度
func (m *Manager) Lengths() map[types.StationID]int {
	out := make(map[types.StationID]int, len(m.order))
	for _, id := range m.order {
		q := m.queues[id]
		q.mu.Lock()
		out[id] = len(q.items)
		q.mu.Unlock()
	}
	return out
}

// Locate 返回面板所在的所有工站，正常情况下最多一个
func (m *Manager) Locate(panelID string) []types.StationID {
	var found []types.StationID
	for _, id := range m.order {
		q := m.queues[id]
		q.mu.Lock()
		if _, ok := q.members[panelID]; ok {
			found = append(found, id)
		}
		q.mu.Unlock()
	}
	return found
}

// Clear 清空所有队列
func (m *Manager) Clear() {
	for _, q := range m.queues {
		q.mu.Lock()
		q.items = nil
		q.members = make(map[string]struct{})
		q.mu.Unlock()
	}
}
