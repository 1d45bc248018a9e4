package tracker

import (
	"github.com/langchou/roadpaint/internal/geo"
	"github.com/langchou/roadpaint/internal/models"
)

// DeltaResult 单次定位产生的增量
type DeltaResult struct {
	DistanceM float64             // 本次位移（米）
	SpeedMps  float64             // 瞬时速度（米/秒）
	Prev      *models.LocationFix // 本次更新前的参考点，首个定位为 nil
}

// DistanceTracker 增量距离与瞬时速度跟踪
// 只保存上一个有效定位，总距离由调用方增量累加，永不回算历史
type DistanceTracker struct {
	jitterFloorM float64
	last         *models.LocationFix
}

// NewDistanceTracker 创建距离跟踪器
func NewDistanceTracker(jitterFloorM float64) *DistanceTracker {
	return &DistanceTracker{jitterFloorM: jitterFloorM}
}

// Update 消费一个有效定位，返回距离与速度增量
// 首个定位建立基准，不产生距离；
// 时间戳未前进视为乱序或重复投递，零增量且不动基准；
// 位移低于抖动下限时零增量，但基准仍前移，避免抖动把跟踪永久卡住
func (t *DistanceTracker) Update(fix *models.LocationFix) DeltaResult {
	if t.last == nil {
		t.last = fix
		return DeltaResult{}
	}

	prev := t.last
	dt := fix.RecordedAt.Sub(prev.RecordedAt).Seconds()
	if dt <= 0 {
		return DeltaResult{Prev: prev}
	}

	d := geo.Distance(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
	if d < t.jitterFloorM {
		t.last = fix
		return DeltaResult{Prev: prev}
	}

	t.last = fix
	return DeltaResult{DistanceM: d, SpeedMps: d / dt, Prev: prev}
}

// LastFix 当前参考点
func (t *DistanceTracker) LastFix() *models.LocationFix {
	return t.last
}

// Reset 清除参考点，新会话重新建立基准
func (t *DistanceTracker) Reset() {
	t.last = nil
}
