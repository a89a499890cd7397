package station

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"panel-tracker/internal/types"
)

// Inspector 定义工站质检员接口
type Inspector interface {
	StationID() types.StationID
	Inspect(ctx context.Context, panelID string) (types.InspectionOutcome, error)
}

// stationCriteria 是各工站的检测项
var stationCriteria = map[types.StationID][]string{
	types.Station1: {"el_microcracks", "el_dark_cells", "lamination_bubbles"},
	types.Station2: {"frame_alignment", "sealant_coverage", "corner_keys"},
	types.Station3: {"junction_box_adhesion", "bypass_diode_continuity", "cable_polarity"},
	types.Station4: {"pmax_within_tolerance", "insulation_resistance", "hipot"},
	types.Station5: {"pmax_within_tolerance", "insulation_resistance", "hipot", "large_format_flatness"},
}

// CriteriaFor 返回工站的检测项列表
func CriteriaFor(id types.StationID) []string {
	return append([]string(nil), stationCriteria[id]...)
}

// SimulatedInspector 本地模拟质检员
// 按配置的不良率随机判定一个检测项不合格
type SimulatedInspector struct {
	id         types.StationID
	operatorID string
	failRate   float64
	delay      time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedInspector 创建模拟质检员，delay 为模拟的检测耗时上限
func NewSimulatedInspector(id types.StationID, operatorID string, failRate float64, delay time.Duration) *SimulatedInspector {
	return &SimulatedInspector{
		id:         id,
		operatorID: operatorID,
		failRate:   failRate,
		delay:      delay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SimulatedInspector) StationID() types.StationID {
	return s.id
}

// Inspect 模拟一次检测，ctx 取消时提前返回
func (s *SimulatedInspector) Inspect(ctx context.Context, panelID string) (types.InspectionOutcome, error) {
	s.mu.Lock()
	var wait time.Duration
	if s.delay > 0 {
		wait = time.Duration(s.rng.Int63n(int64(s.delay)))
	}
	failed := s.rng.Float64() < s.failRate
	criteria := CriteriaFor(s.id)
	bad := -1
	if failed && len(criteria) > 0 {
		bad = s.rng.Intn(len(criteria))
	}
	s.mu.Unlock()

	// 模拟检测耗时
	if wait > 0 {
		select {
		case <-ctx.Done():
			return types.InspectionOutcome{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	outcome := types.InspectionOutcome{
		Result:     types.VerdictPass,
		Criteria:   make(map[string]bool, len(criteria)),
		StationID:  s.id,
		OperatorID: s.operatorID,
	}
	for i, name := range criteria {
		outcome.Criteria[name] = i != bad
	}
	if bad >= 0 {
		outcome.Result = types.VerdictFail
		outcome.Notes = "simulated defect: " + criteria[bad]
	}
	return outcome, nil
}
