package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"panel-tracker/internal/types"
)

// 定义 Prometheus 监控指标
var (
	// StationQueueLength 仪表盘：各工站当前排队的面板数量
	// 用于监控工站积压情况
	StationQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panel_station_queue_length",
		Help: "The number of panels currently waiting at each station",
	}, []string{"station_id"})

	// PanelsByState 仪表盘：各状态的面板数量
	PanelsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panel_workflows_by_state",
		Help: "The number of panel workflows currently in each state",
	}, []string{"state"})

	// TransitionsTotal 计数器：状态转移总数
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_transitions_total",
		Help: "The total number of workflow state transitions",
	}, []string{"from", "to"})

	// InspectionsTotal 计数器：质检结果总数，按工站和结论分类
	InspectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_inspections_total",
		Help: "The total number of processed inspection outcomes",
	}, []string{"station_id", "result"})

	// ReworksTotal 计数器：返工总数，按发现缺陷的工站分类
	ReworksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_reworks_total",
		Help: "The total number of rework resets",
	}, []string{"station_id"})

	// PanelsFinishedTotal 计数器：下线或判废的面板总数
	PanelsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_workflows_finished_total",
		Help: "The total number of panels that completed or failed",
	}, []string{"status", "line"})

	// CycleTime 直方图：面板从建档到下线的耗时分布
	// 用于分析各产线的节拍
	CycleTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panel_cycle_time_seconds",
		Help:    "Time from scan to completion",
		Buckets: prometheus.ExponentialBuckets(60, 2, 10),
	}, []string{"line"})
)

// RecordSnapshot 用统计快照刷新仪表盘类指标
func RecordSnapshot(s types.StatisticsSnapshot) {
	for station, n := range s.QueueCounts {
		StationQueueLength.WithLabelValues(string(station)).Set(float64(n))
	}
	for state, n := range s.StateCounts {
		PanelsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}
