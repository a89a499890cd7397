package types

import "time"

// State 定义面板工作流状态
// 使用字符串类型，方便在日志、JSON 和配置中直接使用
type State string

const (
	StateScanned          State = "SCANNED"           // 条码已扫描 (入口)
	StateValidated        State = "VALIDATED"         // 面板身份与类型已校验
	StateAssemblyEL       State = "ASSEMBLY_EL"       // 组件层压后 EL 检测
	StateFraming          State = "FRAMING"           // 装框
	StateJunctionBox      State = "JUNCTION_BOX"      // 接线盒安装
	StatePerformanceFinal State = "PERFORMANCE_FINAL" // 功率测试与终检
	StateCompleted        State = "COMPLETED"         // 下线 (终态)
)

// States 按流水线顺序列出所有状态
var States = []State{
	StateScanned,
	StateValidated,
	StateAssemblyEL,
	StateFraming,
	StateJunctionBox,
	StatePerformanceFinal,
	StateCompleted,
}

// Valid 判断状态是否属于固定的状态枚举
func (s State) Valid() bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

// Status 定义工作流实例的整体状态
// FAILED 只是状态标记，不是状态机中的节点
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Line 定义产线
type Line string

const (
	Line1 Line = "LINE_1"
	Line2 Line = "LINE_2"
)

// StationID 定义工站 ID
type StationID string

const (
	Station1 StationID = "STATION_1" // EL 检测工站
	Station2 StationID = "STATION_2" // 装框工站
	Station3 StationID = "STATION_3" // 接线盒工站
	Station4 StationID = "STATION_4" // 功率终检 (1 号线)
	Station5 StationID = "STATION_5" // 大尺寸功率终检 (2 号线, 144 片组件)
)

// Stations 列出所有工站
var Stations = []StationID{Station1, Station2, Station3, Station4, Station5}

// Verdict 定义质检结论
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// HistoryEntry 记录一次状态转移，只追加不修改
type HistoryEntry struct {
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes,omitempty"`
	StationID StationID `json:"station_id,omitempty"`
	Rework    bool      `json:"rework,omitempty"` // 返工转移标记
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowInstance 表示一块在产面板的工作流实例
type WorkflowInstance struct {
	PanelID         string         `json:"panel_id"`
	Barcode         string         `json:"barcode"`
	PanelType       string         `json:"panel_type,omitempty"`
	Line            Line           `json:"line"`
	CurrentState    State          `json:"current_state"`
	Status          Status         `json:"status"`
	History         []HistoryEntry `json:"history"`
	ReworkCount     int            `json:"rework_count"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	CompletionNotes string         `json:"completion_notes,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	FailedAt        *time.Time     `json:"failed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Revision        int            `json:"revision"` // 每次变更递增，用于日志恢复时挑选最新快照
}

// Clone 返回实例的深拷贝，调用方修改副本不会影响内部状态
func (w *WorkflowInstance) Clone() WorkflowInstance {
	c := *w
	c.History = append([]HistoryEntry(nil), w.History...)
	if w.QualityScore != nil {
		score := *w.QualityScore
		c.QualityScore = &score
	}
	if w.CompletedAt != nil {
		at := *w.CompletedAt
		c.CompletedAt = &at
	}
	if w.FailedAt != nil {
		at := *w.FailedAt
		c.FailedAt = &at
	}
	return c
}

// LastTransitionAt 返回最后一次状态转移的时间，没有历史时返回创建时间
func (w *WorkflowInstance) LastTransitionAt() time.Time {
	if n := len(w.History); n > 0 {
		return w.History[n-1].Timestamp
	}
	return w.CreatedAt
}

// InspectionOutcome 表示质检员在某工站提交的检测结果
type InspectionOutcome struct {
	Result     Verdict         `json:"result"`
	Criteria   map[string]bool `json:"criteria"`
	StationID  StationID       `json:"station_id"`
	OperatorID string          `json:"operator_id"`
	Notes      string          `json:"notes,omitempty"`
}

// FailedCriteria 返回未通过的检测项，按名称排序由调用方负责
func (o InspectionOutcome) FailedCriteria() []string {
	var failed []string
	for name, ok := range o.Criteria {
		if !ok {
			failed = append(failed, name)
		}
	}
	return failed
}

// OutcomeSummary 是质检处理后的路由结论
type OutcomeSummary struct {
	Result    Verdict `json:"result"`
	NextState State   `json:"next_state"`
}

// InspectionResult 是质检处理的返回值，调用方据此通知操作员或写审计日志
type InspectionResult struct {
	PanelID     string           `json:"panel_id"`
	StationID   StationID        `json:"station_id"`
	Outcome     OutcomeSummary   `json:"outcome"`
	ReworkCount int              `json:"rework_count"`
	Escalated   bool             `json:"escalated,omitempty"` // 返工次数触发升级，面板已判废
	Instance    WorkflowInstance `json:"instance"`
}

// StatisticsSnapshot 是某一时刻注册表与队列的统计快照
type StatisticsSnapshot struct {
	TotalPanels  int               `json:"total_panels"`
	StateCounts  map[State]int     `json:"state_counts"`
	StatusCounts map[Status]int    `json:"status_counts"`
	QueueCounts  map[StationID]int `json:"queue_counts"`
	Timestamp    time.Time         `json:"timestamp"`
}
