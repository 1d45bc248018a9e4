package tracker

import "github.com/langchou/roadpaint/internal/models"

// FixFilter 定位精度过滤器
// 无状态硬阈值，不做平滑：室内或遮挡环境下精度常超 50 米，
// 这类点进入距离累计和涂色都会造成污染
type FixFilter struct {
	limitM float64
}

// NewFixFilter 创建过滤器
func NewFixFilter(limitM float64) *FixFilter {
	return &FixFilter{limitM: limitM}
}

// Accept 判定一次定位是否可用
// 被拒绝的定位不推进参考点，由调用方按需记日志
func (f *FixFilter) Accept(fix *models.LocationFix) bool {
	return fix.AccuracyM <= f.limitM
}
