package handlers

import (
	"context"
	"log/slog"
	"time"

	"panel-tracker/internal/metrics"
	"panel-tracker/internal/types"
)

// StatisticsSource 提供统计快照
type StatisticsSource interface {
	GetWorkflowStatistics() types.StatisticsSnapshot
}

// RunStatsReporter 周期性采样统计快照并刷新仪表盘指标，直到 ctx 被取消
func RunStatsReporter(ctx context.Context, src StatisticsSource, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := src.GetWorkflowStatistics()
			metrics.RecordSnapshot(snap)
			logger.Debug("统计快照已刷新", "total_panels", snap.TotalPanels)
		}
	}
}
