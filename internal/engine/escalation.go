package engine

import (
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"panel-tracker/internal/types"
)

// escalationEnv 构造规则表达式可见的变量
// failed 是本次未通过的检测项
func escalationEnv(inst types.WorkflowInstance, station types.StationID, failed []string) map[string]interface{} {
	if failed == nil {
		failed = []string{}
	}
	return map[string]interface{}{
		"panel":   inst,
		"station": string(station),
		"failed":  failed,
	}
}

// EscalationPolicy 决定返工后的面板是否应当直接判废
// 规则使用 expr 语法，例如 "panel.ReworkCount >= 3"
// 空规则表示不设上限，面板可以无限次返工
type EscalationPolicy struct {
	rule    string
	program *vm.Program
}

// NewEscalationPolicy 编译规则表达式
func NewEscalationPolicy(rule string) (*EscalationPolicy, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return &EscalationPolicy{}, nil
	}
	program, err := expr.Compile(rule, expr.Env(escalationEnv(types.WorkflowInstance{}, "", nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("rework escalation rule compilation failed: %w", err)
	}
	return &EscalationPolicy{rule: rule, program: program}, nil
}

// Rule 返回原始规则文本
func (p *EscalationPolicy) Rule() string {
	return p.rule
}

// ShouldFail 对返工后的实例求值
func (p *EscalationPolicy) ShouldFail(inst *types.WorkflowInstance, station types.StationID, failed []string) (bool, error) {
	if p == nil || p.program == nil {
		return false, nil
	}
	result, err := expr.Run(p.program, escalationEnv(*inst, station, failed))
	if err != nil {
		return false, fmt.Errorf("rework escalation rule execution failed: %w", err)
	}
	escalate, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rework escalation rule result is not a boolean")
	}
	return escalate, nil
}
