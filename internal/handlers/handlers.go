package handlers

import (
	"log/slog"

	"panel-tracker/internal/event"
	"panel-tracker/internal/metrics"
	"panel-tracker/internal/persistence"
	"panel-tracker/internal/types"
	"panel-tracker/internal/web"
)

// JournalWriter 是审计日志的写入接口
type JournalWriter interface {
	Append(entry persistence.LogEntry) error
}

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 工作流引擎只负责核心状态，监控、看板、审计日志都作为订阅方解耦，
// 订阅方的失败只记录日志，不会回滚引擎状态
func RegisterEventHandlers(bus *event.Bus, st *web.StateTracker, journal JournalWriter, logger *slog.Logger) {
	logger = logger.With("component", "event-handlers")

	// --- 指标处理器 ---
	bus.Subscribe(event.TransitionRecorded, func(e event.Event) {
		if e.Entry != nil {
			metrics.TransitionsTotal.WithLabelValues(string(e.Entry.FromState), string(e.Entry.ToState)).Inc()
		}
	})
	bus.Subscribe(event.InspectionRecorded, func(e event.Event) {
		if e.Outcome != nil {
			metrics.InspectionsTotal.WithLabelValues(string(e.StationID), string(e.Outcome.Result)).Inc()
		}
	})
	bus.Subscribe(event.ReworkTriggered, func(e event.Event) {
		metrics.ReworksTotal.WithLabelValues(string(e.StationID)).Inc()
	})
	bus.Subscribe(event.WorkflowCompleted, func(e event.Event) {
		if e.Instance == nil {
			return
		}
		metrics.PanelsFinishedTotal.WithLabelValues(string(types.StatusCompleted), string(e.Instance.Line)).Inc()
		// 节拍: 从扫码建档到下线
		if e.Instance.CompletedAt != nil {
			cycle := e.Instance.CompletedAt.Sub(e.Instance.CreatedAt).Seconds()
			metrics.CycleTime.WithLabelValues(string(e.Instance.Line)).Observe(cycle)
		}
	})
	bus.Subscribe(event.WorkflowFailed, func(e event.Event) {
		if e.Instance != nil {
			metrics.PanelsFinishedTotal.WithLabelValues(string(types.StatusFailed), string(e.Instance.Line)).Inc()
		}
	})

	// --- 看板处理器 ---
	if st != nil {
		bus.SubscribeAll(func(e event.Event) {
			switch {
			case e.Type == event.RegistryReset:
				st.Clear()
			case e.Instance != nil:
				st.Upsert(*e.Instance)
			}
		})
	}

	// --- 审计日志处理器 ---
	if journal != nil {
		bus.SubscribeAll(func(e event.Event) {
			entry := persistence.LogEntry{
				Type:      persistence.EntryEvent,
				Seq:       e.Seq,
				EventType: string(e.Type),
				PanelID:   e.PanelID,
				StationID: e.StationID,
				Instance:  e.Instance,
				Outcome:   e.Outcome,
			}
			if e.Type == event.RegistryReset {
				entry = persistence.LogEntry{Type: persistence.EntryReset, Seq: e.Seq, EventType: string(e.Type)}
			}
			if err := journal.Append(entry); err != nil {
				logger.Error("写入审计日志失败", "event", e.Type, "panel_id", e.PanelID, "error", err)
			}
		})
	}

	// --- 日志处理器 ---
	bus.Subscribe(event.WorkflowInitialized, func(e event.Event) {
		if e.Instance != nil {
			logger.Info("面板已建档", "panel_id", e.PanelID, "line", e.Instance.Line)
		}
	})
	bus.Subscribe(event.ReworkTriggered, func(e event.Event) {
		attrs := []any{"panel_id", e.PanelID, "station_id", e.StationID}
		if e.Entry != nil {
			attrs = append(attrs, "reason", e.Entry.Reason)
		}
		if e.Instance != nil {
			attrs = append(attrs, "rework_count", e.Instance.ReworkCount)
		}
		logger.Warn("面板返工", attrs...)
	})
	bus.Subscribe(event.WorkflowCompleted, func(e event.Event) {
		logger.Info("面板已下线", "panel_id", e.PanelID)
	})
	bus.Subscribe(event.WorkflowFailed, func(e event.Event) {
		reason := ""
		if e.Instance != nil {
			reason = e.Instance.FailureReason
		}
		logger.Error("面板判废", "panel_id", e.PanelID, "station_id", e.StationID, "reason", reason)
	})
}
