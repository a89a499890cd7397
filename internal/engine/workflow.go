package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"panel-tracker/internal/event"
	"panel-tracker/internal/fsm"
	"panel-tracker/internal/queue"
	"panel-tracker/internal/types"
)

// TransitionOptions 是 TransitionWorkflow 的参数
type TransitionOptions struct {
	Reason    string          // 必填
	StationID types.StationID // 可选，发起转移的工站
	Notes     string          // 可选
}

// CompleteOptions 是 CompleteWorkflow 的参数
type CompleteOptions struct {
	QualityScore    float64 // 必填，0-100
	CompletionNotes string  // 可选
}

// ReworkOptions 是 ResetWorkflowForRework 的参数
type ReworkOptions struct {
	Reason string // 必填
	Notes  string // 可选
}

// FailOptions 是 FailWorkflow 的参数
type FailOptions struct {
	Reason    string          // 必填
	StationID types.StationID // 可选
}

// WorkflowEngine 负责面板工作流的状态、工站队列和质检路由
//
// 锁顺序: gate -> 面板锁 -> 工站队列锁
// 所有变更操作持有 gate 的共享锁，不同面板可以并行；
// 统计、恢复和重置持有 gate 的排他锁，看到的是一致的快照
//
// 事件序号在持有 gate 时分配，审计日志按序号而不是写入顺序重放
type WorkflowEngine struct {
	gate       sync.RWMutex
	seq        atomic.Uint64
	registry   *Registry
	queues     *queue.Manager
	table      *fsm.Table
	lines      *LineResolver
	escalation *EscalationPolicy
	publisher  event.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorkflowEngine 创建一个新的 WorkflowEngine 实例
// lines 为 nil 时使用默认的面板类型映射；escalation 和 publisher 可以为 nil
func NewWorkflowEngine(
	lines *LineResolver,
	escalation *EscalationPolicy,
	publisher event.Publisher,
	logger *slog.Logger,
) *WorkflowEngine {
	if lines == nil {
		lines, _ = NewLineResolver(DefaultLineAssignments())
	}
	return &WorkflowEngine{
		registry:   NewRegistry(),
		queues:     queue.NewManager(types.Stations),
		table:      fsm.NewTable(),
		lines:      lines,
		escalation: escalation,
		publisher:  publisher,
		logger:     logger.With("component", "workflow-engine"),
		now:        time.Now,
	}
}

// recorder 收集一次变更产生的事件，锁释放后统一发布
// 调用方必须持有 gate
type recorder struct {
	seq    *atomic.Uint64
	events []event.Event
}

func (e *WorkflowEngine) newRecorder() *recorder {
	return &recorder{seq: &e.seq}
}

func (r *recorder) add(t event.EventType, inst *types.WorkflowInstance, station types.StationID, entry *types.HistoryEntry) *event.Event {
	snap := inst.Clone()
	r.events = append(r.events, event.Event{
		Type:      t,
		Seq:       r.seq.Add(1),
		PanelID:   inst.PanelID,
		Instance:  &snap,
		StationID: station,
		Entry:     entry,
	})
	return &r.events[len(r.events)-1]
}

func (e *WorkflowEngine) publish(events []event.Event) {
	if e.publisher == nil {
		return
	}
	for _, ev := range events {
		e.publisher.Publish(ev)
	}
}

// mutate 在 gate 共享锁和面板锁下执行 fn，成功后返回实例副本并发布事件
func (e *WorkflowEngine) mutate(panelID string, fn func(inst *types.WorkflowInstance, rec *recorder) error) (types.WorkflowInstance, error) {
	rec := e.newRecorder()
	out, err := func() (types.WorkflowInstance, error) {
		e.gate.RLock()
		defer e.gate.RUnlock()

		en, err := e.registry.lookup(panelID)
		if err != nil {
			return types.WorkflowInstance{}, err
		}
		en.mu.Lock()
		defer en.mu.Unlock()

		if err := fn(en.inst, rec); err != nil {
			return types.WorkflowInstance{}, err
		}
		return en.inst.Clone(), nil
	}()
	if err != nil {
		e.logger.Warn("工作流操作被拒绝", "panel_id", panelID, "error", err)
		return out, err
	}
	e.publish(rec.events)
	return out, nil
}

func (e *WorkflowEngine) knownStation(station types.StationID) error {
	for _, id := range e.queues.Stations() {
		if id == station {
			return nil
		}
	}
	return fmt.Errorf("%w: station %s", types.ErrNotFound, station)
}

// InitializeWorkflow 为新扫码的面板创建工作流，初始状态 SCANNED
func (e *WorkflowEngine) InitializeWorkflow(panelID, barcode string, opts InitOptions) (types.WorkflowInstance, error) {
	panelID, barcode = strings.TrimSpace(panelID), strings.TrimSpace(barcode)
	if panelID == "" {
		return types.WorkflowInstance{}, fmt.Errorf("%w: panel id is required", types.ErrValidation)
	}
	if barcode == "" {
		return types.WorkflowInstance{}, fmt.Errorf("%w: barcode is required", types.ErrValidation)
	}
	line, err := e.lines.Resolve(opts)
	if err != nil {
		return types.WorkflowInstance{}, err
	}

	now := e.now()
	inst := &types.WorkflowInstance{
		PanelID:      panelID,
		Barcode:      barcode,
		PanelType:    strings.TrimSpace(opts.PanelType),
		Line:         line,
		CurrentState: types.StateScanned,
		Status:       types.StatusActive,
		History:      []types.HistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Revision:     1,
	}

	// 入表之前取快照，入表后其他请求可能立即持有面板锁修改 inst
	rec := e.newRecorder()
	e.gate.RLock()
	ev := rec.add(event.WorkflowInitialized, inst, "", nil)
	_, err = e.registry.insert(inst)
	e.gate.RUnlock()
	if err != nil {
		e.logger.Warn("初始化工作流失败", "panel_id", panelID, "error", err)
		return types.WorkflowInstance{}, err
	}

	created := ev.Instance.Clone()
	e.logger.Info("面板建档", "panel_id", panelID, "barcode", barcode, "line", line)
	e.publish(rec.events)
	return created, nil
}

// ValidateTransition 判断面板能否转移到目标状态，不修改任何状态
func (e *WorkflowEngine) ValidateTransition(panelID string, target types.State) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("%w: unknown state %q", types.ErrValidation, target)
	}
	e.gate.RLock()
	defer e.gate.RUnlock()

	en, err := e.registry.lookup(panelID)
	if err != nil {
		return false, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if en.inst.Status != types.StatusActive {
		return false, nil
	}
	return e.table.Allowed(en.inst.CurrentState, target), nil
}

// TransitionWorkflow 把面板转移到目标状态，并同步工站队列
func (e *WorkflowEngine) TransitionWorkflow(panelID string, target types.State, opts TransitionOptions) (types.WorkflowInstance, error) {
	if !target.Valid() {
		return types.WorkflowInstance{}, fmt.Errorf("%w: unknown state %q", types.ErrValidation, target)
	}
	if strings.TrimSpace(opts.Reason) == "" {
		return types.WorkflowInstance{}, fmt.Errorf("%w: transition reason is required", types.ErrValidation)
	}
	if opts.StationID != "" {
		if err := e.knownStation(opts.StationID); err != nil {
			return types.WorkflowInstance{}, err
		}
	}

	return e.mutate(panelID, func(inst *types.WorkflowInstance, rec *recorder) error {
		if err := requireActive(inst); err != nil {
			return err
		}
		return e.applyTransition(inst, rec, target, opts.Reason, opts.Notes, opts.StationID)
	})
}

// GetWorkflowState 返回面板当前实例的副本
func (e *WorkflowEngine) GetWorkflowState(panelID string) (types.WorkflowInstance, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	en, err := e.registry.lookup(panelID)
	if err != nil {
		return types.WorkflowInstance{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.inst.Clone(), nil
}

// CompleteWorkflow 在功率终检后让面板下线
func (e *WorkflowEngine) CompleteWorkflow(panelID string, opts CompleteOptions) (types.WorkflowInstance, error) {
	if opts.QualityScore < 0 || opts.QualityScore > 100 {
		return types.WorkflowInstance{}, fmt.Errorf("%w: quality score must be within 0-100, got %v", types.ErrValidation, opts.QualityScore)
	}

	return e.mutate(panelID, func(inst *types.WorkflowInstance, rec *recorder) error {
		if err := requireActive(inst); err != nil {
			return err
		}
		if inst.CurrentState != types.StatePerformanceFinal {
			return fmt.Errorf("%w: panel %s cannot complete from state %s", types.ErrStateConflict, inst.PanelID, inst.CurrentState)
		}
		score := opts.QualityScore
		inst.QualityScore = &score
		inst.CompletionNotes = opts.CompletionNotes
		station, _ := e.table.StationFor(inst.Line, inst.CurrentState)
		return e.applyTransition(inst, rec, types.StateCompleted, "workflow completed", opts.CompletionNotes, station)
	})
}

// ResetWorkflowForRework 把面板送回 ASSEMBLY_EL 返工，返工次数加一
func (e *WorkflowEngine) ResetWorkflowForRework(panelID string, stationID types.StationID, opts ReworkOptions) (types.WorkflowInstance, error) {
	if err := e.knownStation(stationID); err != nil {
		return types.WorkflowInstance{}, err
	}
	if strings.TrimSpace(opts.Reason) == "" {
		return types.WorkflowInstance{}, fmt.Errorf("%w: rework reason is required", types.ErrValidation)
	}

	return e.mutate(panelID, func(inst *types.WorkflowInstance, rec *recorder) error {
		return e.resetForRework(inst, rec, stationID, opts.Reason, opts.Notes)
	})
}

func (e *WorkflowEngine) resetForRework(inst *types.WorkflowInstance, rec *recorder, station types.StationID, reason, notes string) error {
	if err := requireActive(inst); err != nil {
		return err
	}
	if !fsm.IsStationState(inst.CurrentState) {
		return fmt.Errorf("%w: panel %s in state %s is not at a station", types.ErrStateConflict, inst.PanelID, inst.CurrentState)
	}
	return e.applyTransition(inst, rec, types.StateAssemblyEL, reason, notes, station)
}

// FailWorkflow 将面板判废，状态保持不变，从所有工站队列移除
func (e *WorkflowEngine) FailWorkflow(panelID string, opts FailOptions) (types.WorkflowInstance, error) {
	if strings.TrimSpace(opts.Reason) == "" {
		return types.WorkflowInstance{}, fmt.Errorf("%w: failure reason is required", types.ErrValidation)
	}
	if opts.StationID != "" {
		if err := e.knownStation(opts.StationID); err != nil {
			return types.WorkflowInstance{}, err
		}
	}

	return e.mutate(panelID, func(inst *types.WorkflowInstance, rec *recorder) error {
		if err := requireActive(inst); err != nil {
			return err
		}
		e.failLocked(inst, rec, opts.Reason, opts.StationID)
		return nil
	})
}

func (e *WorkflowEngine) failLocked(inst *types.WorkflowInstance, rec *recorder, reason string, station types.StationID) {
	if st, ok := e.table.StationFor(inst.Line, inst.CurrentState); ok {
		e.dequeue(st, inst.PanelID)
	}
	now := e.now()
	inst.Status = types.StatusFailed
	inst.FailureReason = reason
	inst.FailedAt = &now
	inst.UpdatedAt = now
	inst.Revision++
	rec.add(event.WorkflowFailed, inst, station, nil)
}

// applyTransition 追加历史、更新状态并让队列成员关系与新状态保持一致
// 调用方必须持有面板锁
func (e *WorkflowEngine) applyTransition(inst *types.WorkflowInstance, rec *recorder, to types.State, reason, notes string, station types.StationID) error {
	from := inst.CurrentState
	if !e.table.Allowed(from, to) {
		return fmt.Errorf("%w: panel %s cannot move from %s to %s", types.ErrInvalidTransition, inst.PanelID, from, to)
	}
	rework := e.table.IsReworkEdge(from, to)

	now := e.now()
	entry := types.HistoryEntry{
		FromState: from,
		ToState:   to,
		Reason:    reason,
		Notes:     notes,
		StationID: station,
		Rework:    rework,
		Timestamp: now,
	}

	if st, ok := e.table.StationFor(inst.Line, from); ok {
		e.dequeue(st, inst.PanelID)
	}

	inst.History = append(inst.History, entry)
	inst.CurrentState = to
	inst.UpdatedAt = now
	inst.Revision++
	if rework {
		inst.ReworkCount++
	}
	if to == types.StateCompleted {
		inst.Status = types.StatusCompleted
		inst.CompletedAt = &now
	}

	if st, ok := e.table.StationFor(inst.Line, to); ok {
		e.enqueue(st, inst.PanelID)
	}

	rec.add(event.TransitionRecorded, inst, station, &entry)
	if rework {
		rec.add(event.ReworkTriggered, inst, station, &entry)
	}
	if to == types.StateCompleted {
		rec.add(event.WorkflowCompleted, inst, station, &entry)
	}
	return nil
}

func (e *WorkflowEngine) enqueue(station types.StationID, panelID string) {
	if _, err := e.queues.Add(station, panelID); err != nil {
		e.logger.Error("面板入队失败", "panel_id", panelID, "station_id", station, "error", err)
	}
}

func (e *WorkflowEngine) dequeue(station types.StationID, panelID string) {
	if _, err := e.queues.Remove(station, panelID); err != nil {
		e.logger.Error("面板出队失败", "panel_id", panelID, "station_id", station, "error", err)
	}
}

func requireActive(inst *types.WorkflowInstance) error {
	if inst.Status != types.StatusActive {
		return fmt.Errorf("%w: panel %s is %s", types.ErrStateConflict, inst.PanelID, inst.Status)
	}
	return nil
}

// AddToStationQueue 把面板追加到工站队尾，重复添加为空操作
// 只接受当前就处在该工站状态的活动面板
func (e *WorkflowEngine) AddToStationQueue(station types.StationID, panelID string) error {
	if err := e.knownStation(station); err != nil {
		return err
	}
	e.gate.RLock()
	defer e.gate.RUnlock()

	en, err := e.registry.lookup(panelID)
	if err != nil {
		return err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if err := requireActive(en.inst); err != nil {
		return err
	}
	if st, ok := e.table.StationFor(en.inst.Line, en.inst.CurrentState); !ok || st != station {
		return fmt.Errorf("%w: panel %s in state %s does not belong to %s", types.ErrStateConflict, panelID, en.inst.CurrentState, station)
	}
	_, err = e.queues.Add(station, panelID)
	return err
}

// RemoveFromStationQueue 从工站队列移除面板，不存在时为空操作
func (e *WorkflowEngine) RemoveFromStationQueue(station types.StationID, panelID string) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	_, err := e.queues.Remove(station, panelID)
	return err
}

// GetNextPanelInQueue 查看工站队首面板，不移除
func (e *WorkflowEngine) GetNextPanelInQueue(station types.StationID) (string, bool, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.queues.Peek(station)
}

// GetStationQueue 返回工站队列的副本
func (e *WorkflowEngine) GetStationQueue(station types.StationID) ([]string, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.queues.Snapshot(station)
}

// Restore 用日志恢复出的实例重建注册表
// 在工站中的活动面板按最后一次转移时间重新排队；已存在的面板会被跳过
func (e *WorkflowEngine) Restore(instances []types.WorkflowInstance) (int, error) {
	sorted := append([]types.WorkflowInstance(nil), instances...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastTransitionAt().Before(sorted[j].LastTransitionAt())
	})

	// 先整体校验，任何一条不合法都不写入
	for i := range sorted {
		if err := validRestored(&sorted[i]); err != nil {
			return 0, err
		}
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	restored := 0
	for i := range sorted {
		inst := sorted[i].Clone()
		if _, err := e.registry.insert(&inst); err != nil {
			e.logger.Warn("跳过已存在的面板", "panel_id", inst.PanelID)
			continue
		}
		if inst.Status == types.StatusActive {
			if st, ok := e.table.StationFor(inst.Line, inst.CurrentState); ok {
				e.enqueue(st, inst.PanelID)
			}
		}
		restored++
	}
	e.logger.Info("工作流已恢复", "count", restored)
	return restored, nil
}

func validRestored(inst *types.WorkflowInstance) error {
	switch {
	case strings.TrimSpace(inst.PanelID) == "":
		return fmt.Errorf("%w: restored panel has no id", types.ErrValidation)
	case !inst.CurrentState.Valid():
		return fmt.Errorf("%w: panel %s has unknown state %q", types.ErrValidation, inst.PanelID, inst.CurrentState)
	case inst.Line != types.Line1 && inst.Line != types.Line2:
		return fmt.Errorf("%w: panel %s has unknown line %q", types.ErrValidation, inst.PanelID, inst.Line)
	case inst.Status != types.StatusActive && inst.Status != types.StatusCompleted && inst.Status != types.StatusFailed:
		return fmt.Errorf("%w: panel %s has unknown status %q", types.ErrValidation, inst.PanelID, inst.Status)
	}
	return nil
}

// Reset 清空所有实例和队列，仅用于测试和运维
func (e *WorkflowEngine) Reset() {
	e.gate.Lock()
	e.registry.clear()
	e.queues.Clear()
	ev := event.Event{Type: event.RegistryReset, Seq: e.seq.Add(1)}
	e.gate.Unlock()

	e.logger.Warn("注册表和工站队列已清空")
	e.publish([]event.Event{ev})
}

// ResumeSequence 让事件序号从 last 之后继续，用于重启后接着已有的审计日志
func (e *WorkflowEngine) ResumeSequence(last uint64) {
	e.gate.Lock()
	defer e.gate.Unlock()
	if e.seq.Load() < last {
		e.seq.Store(last)
	}
}
