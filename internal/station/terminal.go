package station

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"panel-tracker/internal/types"
	"panel-tracker/internal/util"
)

// Orchestrator 是终端依赖的编排服务接口
type Orchestrator interface {
	NextPanel(ctx context.Context, station types.StationID) (string, bool, error)
	SubmitInspection(ctx context.Context, panelID string, outcome types.InspectionOutcome) (types.InspectionResult, error)
}

// Terminal 模拟工位终端: 轮询本工站队首面板，检测后提交结果
type Terminal struct {
	orchestrator Orchestrator
	inspector    Inspector
	interval     time.Duration
	sessionID    string
	logger       *slog.Logger
}

// NewTerminal 创建一个工位终端
func NewTerminal(o Orchestrator, inspector Inspector, interval time.Duration, logger *slog.Logger) *Terminal {
	session := uuid.NewString()
	return &Terminal{
		orchestrator: o,
		inspector:    inspector,
		interval:     interval,
		sessionID:    session,
		logger:       logger.With("component", "station-terminal", "station_id", inspector.StationID(), "session_id", session),
	}
}

// SessionID 返回本次终端会话 ID
func (t *Terminal) SessionID() string {
	return t.sessionID
}

// Run 持续处理队列直到 ctx 被取消
func (t *Terminal) Run(ctx context.Context) error {
	t.logger.Info("工位终端启动")
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		// 队列非空时连续处理，空闲时等待下一个轮询周期
		processed, err := t.Step(ctx)
		if err != nil && ctx.Err() == nil {
			t.logger.Warn("处理面板失败", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			t.logger.Info("工位终端停止")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step 处理一块面板，队列为空时返回 false
func (t *Terminal) Step(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	station := t.inspector.StationID()
	ctx = util.ContextWithTraceID(ctx, util.NewTraceID())
	traceID, _ := util.TraceIDFromContext(ctx)
	logger := t.logger.With("trace_id", traceID)

	panelID, ok, err := t.orchestrator.NextPanel(ctx, station)
	if err != nil || !ok {
		return false, err
	}

	outcome, err := t.inspector.Inspect(ctx, panelID)
	if err != nil {
		return false, err
	}

	result, err := t.orchestrator.SubmitInspection(ctx, panelID, outcome)
	if err != nil {
		// 面板已被其他操作移走，等下一个轮询周期重新取队首
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrStateConflict) {
			logger.Warn("面板已不在本工站", "panel_id", panelID, "error", err)
			return false, nil
		}
		return false, err
	}

	logger.Info("质检结果已提交",
		"panel_id", panelID,
		"result", result.Outcome.Result,
		"next_state", result.Outcome.NextState,
		"rework_count", result.ReworkCount,
		"escalated", result.Escalated,
	)
	return true, nil
}
