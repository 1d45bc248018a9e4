package tracker

import (
	"github.com/langchou/roadpaint/internal/geo"
	"github.com/langchou/roadpaint/internal/models"
)

// PaintResult 一次涂色判定
type PaintResult struct {
	Key        string
	IsNew      bool
	VisitCount int
	Segment    *models.Segment
}

// SegmentPainter 路段涂色器
// 维护路段键到访问次数与几何的映射；键只由终点坐标量化得出，
// 不同路径落入同一网格会合并为一个路段（无图匹配时的近似）
type SegmentPainter struct {
	precision int
	segments  map[string]*models.Segment
}

// NewSegmentPainter 创建涂色器
func NewSegmentPainter(precision int) *SegmentPainter {
	return &SegmentPainter{
		precision: precision,
		segments:  make(map[string]*models.Segment),
	}
}

// Load 载入存量路段
// 路段按账号存续而非按会话，会话开始时从存储恢复，重访计数才能跨会话延续
func (p *SegmentPainter) Load(segments []*models.Segment) {
	for _, seg := range segments {
		p.segments[seg.Key] = seg
	}
}

// Paint 将一次有效位移涂入网格
// 新网格创建路段，几何取 [prev, curr] 两端点；已有网格只递增访问次数，几何不变
func (p *SegmentPainter) Paint(prev, curr *models.LocationFix, distanceM float64) PaintResult {
	key := geo.SegmentKey(curr.Latitude, curr.Longitude, p.precision)

	if seg, ok := p.segments[key]; ok {
		seg.VisitCount++
		return PaintResult{Key: key, VisitCount: seg.VisitCount, Segment: seg}
	}

	seg := &models.Segment{
		Key: key,
		Geometry: models.LineString{
			{prev.Longitude, prev.Latitude},
			{curr.Longitude, curr.Latitude},
		},
		DistanceM:  distanceM,
		VisitCount: 1,
	}
	p.segments[key] = seg
	return PaintResult{Key: key, IsNew: true, VisitCount: 1, Segment: seg}
}

// Get 按键取路段
func (p *SegmentPainter) Get(key string) (*models.Segment, bool) {
	seg, ok := p.segments[key]
	return seg, ok
}

// Count 已涂色路段数
func (p *SegmentPainter) Count() int {
	return len(p.segments)
}
