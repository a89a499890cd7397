package engine

import (
	"fmt"
	"strings"

	"panel-tracker/internal/types"
)

// DefaultLineAssignments 是面板类型 (电池片数) 到产线编号的固定映射
// 36/40/60/72 片在 1 号线生产，144 片半片大板在 2 号线生产
func DefaultLineAssignments() map[string]int {
	return map[string]int{
		"36":  1,
		"40":  1,
		"60":  1,
		"72":  1,
		"144": 2,
	}
}

// InitOptions 是初始化工作流的可选参数，至少提供其中一个
type InitOptions struct {
	LineNumber int    // 产线编号 1 或 2，0 表示未指定
	PanelType  string // 条码解析得到的面板类型，如 "144"
}

// LineResolver 根据面板类型或产线编号确定产线
type LineResolver struct {
	byType map[string]types.Line
}

// NewLineResolver 从 面板类型 -> 产线编号 的映射构建解析器
func NewLineResolver(assignments map[string]int) (*LineResolver, error) {
	r := &LineResolver{byType: make(map[string]types.Line, len(assignments))}
	for panelType, n := range assignments {
		line, err := lineFromNumber(n)
		if err != nil {
			return nil, fmt.Errorf("line assignment for panel type %q: %w", panelType, err)
		}
		r.byType[strings.TrimSpace(panelType)] = line
	}
	return r, nil
}

// Resolve 确定面板所属产线
// 同时给出类型和编号时两者必须一致
func (r *LineResolver) Resolve(opts InitOptions) (types.Line, error) {
	var fromNumber, fromType types.Line

	if opts.LineNumber != 0 {
		line, err := lineFromNumber(opts.LineNumber)
		if err != nil {
			return "", err
		}
		fromNumber = line
	}

	if opts.PanelType != "" {
		line, ok := r.byType[strings.TrimSpace(opts.PanelType)]
		if !ok {
			return "", fmt.Errorf("%w: unknown panel type %q", types.ErrValidation, opts.PanelType)
		}
		fromType = line
	}

	switch {
	case fromNumber != "" && fromType != "" && fromNumber != fromType:
		return "", fmt.Errorf("%w: panel type %q belongs to %s, not %s", types.ErrValidation, opts.PanelType, fromType, fromNumber)
	case fromType != "":
		return fromType, nil
	case fromNumber != "":
		return fromNumber, nil
	default:
		return "", fmt.Errorf("%w: line number or panel type is required", types.ErrValidation)
	}
}

func lineFromNumber(n int) (types.Line, error) {
	switch n {
	case 1:
		return types.Line1, nil
	case 2:
		return types.Line2, nil
	default:
		return "", fmt.Errorf("%w: line number must be 1 or 2, got %d", types.ErrValidation, n)
	}
}
