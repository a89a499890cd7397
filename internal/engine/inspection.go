package engine

import (
	"fmt"
	"sort"
	"strings"

	"panel-tracker/internal/event"
	"panel-tracker/internal/types"
)

// ProcessInspection 处理工站提交的质检结果
// PASS 推进到下一工站 (或下线)，FAIL 送回 ASSEMBLY_EL 返工
func (e *WorkflowEngine) ProcessInspection(panelID string, stationID types.StationID, outcome types.InspectionOutcome) (types.InspectionResult, error) {
	if err := e.knownStation(stationID); err != nil {
		return types.InspectionResult{}, err
	}
	if err := validateOutcome(stationID, &outcome); err != nil {
		return types.InspectionResult{}, err
	}
	failed := outcome.FailedCriteria()
	sort.Strings(failed)

	result := types.InspectionResult{PanelID: panelID, StationID: stationID}
	_, err := e.mutate(panelID, func(inst *types.WorkflowInstance, rec *recorder) error {
		if inst.Status != types.StatusActive {
			return fmt.Errorf("%w: panel %s is %s and cannot be inspected", types.ErrStateConflict, inst.PanelID, inst.Status)
		}
		expected, ok := e.table.StateFor(inst.Line, stationID)
		if !ok || expected != inst.CurrentState {
			return fmt.Errorf("%w: panel %s is not at %s (current state %s)", types.ErrNotFound, inst.PanelID, stationID, inst.CurrentState)
		}

		switch outcome.Result {
		case types.VerdictPass:
			next, _ := e.table.Next(inst.CurrentState)
			reason := fmt.Sprintf("inspection passed at %s", stationID)
			if err := e.applyTransition(inst, rec, next, reason, outcome.Notes, stationID); err != nil {
				return err
			}
			result.Outcome = types.OutcomeSummary{Result: types.VerdictPass, NextState: next}

		case types.VerdictFail:
			reason := fmt.Sprintf("inspection failed at %s", stationID)
			if len(failed) > 0 {
				reason += ": " + strings.Join(failed, ", ")
			}
			if err := e.resetForRework(inst, rec, stationID, reason, outcome.Notes); err != nil {
				return err
			}
			result.Outcome = types.OutcomeSummary{Result: types.VerdictFail, NextState: types.StateAssemblyEL}

			escalate, err := e.escalation.ShouldFail(inst, stationID, failed)
			if err != nil {
				// 规则求值失败不阻塞返工
				e.logger.Warn("返工升级规则求值失败", "panel_id", inst.PanelID, "error", err)
			} else if escalate {
				e.failLocked(inst, rec, fmt.Sprintf("rework escalation: %s", e.escalation.Rule()), stationID)
				result.Escalated = true
			}
		}

		result.ReworkCount = inst.ReworkCount
		result.Instance = inst.Clone()

		ev := rec.add(event.InspectionRecorded, inst, stationID, nil)
		recorded := outcome
		recorded.Criteria = copyCriteria(outcome.Criteria)
		res := result
		ev.Outcome = &recorded
		ev.Result = &res
		return nil
	})
	if err != nil {
		return types.InspectionResult{}, err
	}

	e.logger.Info("质检已处理",
		"panel_id", panelID,
		"station_id", stationID,
		"result", outcome.Result,
		"next_state", result.Outcome.NextState,
		"rework_count", result.ReworkCount,
		"escalated", result.Escalated,
	)
	return result, nil
}

// validateOutcome 校验质检结果的完整性，缺省的工站 ID 以路径参数补齐
func validateOutcome(stationID types.StationID, o *types.InspectionOutcome) error {
	switch o.Result {
	case types.VerdictPass, types.VerdictFail:
	default:
		return fmt.Errorf("%w: inspection result must be PASS or FAIL, got %q", types.ErrValidation, o.Result)
	}
	if strings.TrimSpace(o.OperatorID) == "" {
		return fmt.Errorf("%w: operator id is required", types.ErrValidation)
	}
	if len(o.Criteria) == 0 {
		return fmt.Errorf("%w: inspection criteria are required", types.ErrValidation)
	}
	if o.StationID == "" {
		o.StationID = stationID
	} else if o.StationID != stationID {
		return fmt.Errorf("%w: outcome station %s does not match %s", types.ErrValidation, o.StationID, stationID)
	}
	if o.Result == types.VerdictPass {
		if failed := o.FailedCriteria(); len(failed) > 0 {
			sort.Strings(failed)
			return fmt.Errorf("%w: PASS outcome has failed criteria: %s", types.ErrValidation, strings.Join(failed, ", "))
		}
	}
	return nil
}

func copyCriteria(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
