package event

import (
	"sync"

	"panel-tracker/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义所有业务事件类型
const (
	WorkflowInitialized EventType = "WorkflowInitialized" // 面板扫码建档
	TransitionRecorded  EventType = "TransitionRecorded"  // 状态转移 (含返工)
	ReworkTriggered     EventType = "ReworkTriggered"     // 面板被送回返工
	InspectionRecorded  EventType = "InspectionRecorded"  // 质检结果已处理
	WorkflowCompleted   EventType = "WorkflowCompleted"   // 面板下线
	WorkflowFailed      EventType = "WorkflowFailed"      // 面板判废
	RegistryReset       EventType = "RegistryReset"       // 注册表被整体清空
)

// AllTypes 列出所有事件类型，便于统一订阅
var AllTypes = []EventType{
	WorkflowInitialized,
	TransitionRecorded,
	ReworkTriggered,
	InspectionRecorded,
	WorkflowCompleted,
	WorkflowFailed,
	RegistryReset,
}

// Event 结构体定义了事件的数据负载
type Event struct {
	Type      EventType                // 事件类型
	Seq       uint64                   // 引擎分配的单调序号
	PanelID   string                   // 关联的面板 ID
	Instance  *types.WorkflowInstance  // 变更后的实例快照 (副本)
	StationID types.StationID          // 关联的工站 ID
	Entry     *types.HistoryEntry      // 本次追加的历史记录 (仅转移类事件)
	Outcome   *types.InspectionOutcome // 质检结果 (仅质检事件)
	Result    *types.InspectionResult  // 质检路由结论 (仅质检事件)
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Publisher 是工作流引擎依赖的发布接口
type Publisher interface {
	Publish(e Event)
}

// Bus 是一个简单的内存事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler // 存储事件类型到多个处理函数的映射
	wg       sync.WaitGroup          // 追踪仍在运行的处理器，用于停机前排空
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll 用同一个处理器订阅所有事件类型
func (b *Bus) SubscribeAll(handler Handler) {
	for _, t := range AllTypes {
		b.Subscribe(t, handler)
	}
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
// 处理器在独立的 goroutine 中执行，发布方不会被阻塞
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[e.Type] {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(e)
		}(handler)
	}
}

// Drain 等待所有已派发的处理器执行完毕
func (b *Bus) Drain() {
	b.wg.Wait()
}
