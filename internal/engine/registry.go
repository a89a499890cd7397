package engine

import (
	"fmt"
	"sort"
	"sync"

	"panel-tracker/internal/types"
)

// entry 持有单个面板的实例和它自己的锁
// 同一面板的所有变更操作都在 mu 下串行执行
type entry struct {
	mu   sync.Mutex
	inst *types.WorkflowInstance
}

// Registry 保存所有面板工作流实例的权威内存状态
type Registry struct {
	mu      sync.RWMutex // 只保护 entries 映射本身
	entries map[string]*entry
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// insert 注册新实例，面板已存在时返回冲突错误
func (r *Registry) insert(inst *types.WorkflowInstance) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[inst.PanelID]; exists {
		return nil, fmt.Errorf("%w: workflow for panel %s already exists", types.ErrStateConflict, inst.PanelID)
	}
	e := &entry{inst: inst}
	r.entries[inst.PanelID] = e
	return e, nil
}

// lookup 查找面板条目
func (r *Registry) lookup(panelID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[panelID]
	if !ok {
		return nil, fmt.Errorf("%w: panel %s", types.ErrNotFound, panelID)
	}
	return e, nil
}

// snapshot 返回所有实例的指针，按面板 ID 排序
// 调用方必须持有引擎的全局排他锁，此时没有任何实例在被修改
func (r *Registry) snapshot() []*types.WorkflowInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.WorkflowInstance, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PanelID < out[j].PanelID })
	return out
}

// Len 返回实例数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// clear 删除所有实例
func (r *Registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}
