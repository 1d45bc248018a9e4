package tracker

import (
	"github.com/langchou/roadpaint/internal/models"
)

// FlushDecision 落库判定
// Seq 为快照时的累计点数，单调递增，落库侧用它丢弃被后继快照覆盖的请求
type FlushDecision struct {
	Due    bool
	Seq    int
	Points models.TracePoints
}

// TraceBuffer 轨迹缓冲
// 留存会话内全部轨迹点，每攒满一批产生一次全量快照；
// 落库失败时点不丢失，下个批次边界重试
type TraceBuffer struct {
	batchSize     int
	points        models.TracePoints
	pendingFlush  int
	remoteTraceID int64
}

// NewTraceBuffer 创建轨迹缓冲
func NewTraceBuffer(batchSize int) *TraceBuffer {
	return &TraceBuffer{batchSize: batchSize}
}

// Append 追加一个轨迹点
// 自上次快照起累计满一批时返回 Due 快照并重置计数
func (b *TraceBuffer) Append(fix *models.LocationFix) FlushDecision {
	b.points = append(b.points, models.TracePoint{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		RecordedAt: fix.RecordedAt,
	})
	b.pendingFlush++

	if b.pendingFlush >= b.batchSize {
		b.pendingFlush = 0
		return FlushDecision{Due: true, Seq: len(b.points), Points: b.snapshot()}
	}
	return FlushDecision{Seq: len(b.points)}
}

// FlushNow 立即产生全量快照
// 会话结束时调用，缓冲为空则无事可做
func (b *TraceBuffer) FlushNow() FlushDecision {
	b.pendingFlush = 0
	if len(b.points) == 0 {
		return FlushDecision{}
	}
	return FlushDecision{Due: true, Seq: len(b.points), Points: b.snapshot()}
}

// Reset 清空缓冲
// 新会话开始时调用，轨迹点与远端轨迹归属一并作废
func (b *TraceBuffer) Reset() {
	b.points = nil
	b.pendingFlush = 0
	b.remoteTraceID = 0
}

// Len 当前缓冲点数
func (b *TraceBuffer) Len() int {
	return len(b.points)
}

// RemoteTraceID 远端轨迹 ID，0 表示尚未创建
func (b *TraceBuffer) RemoteTraceID() int64 {
	return b.remoteTraceID
}

// SetRemoteTraceID 记录远端轨迹 ID
func (b *TraceBuffer) SetRemoteTraceID(id int64) {
	b.remoteTraceID = id
}

func (b *TraceBuffer) snapshot() models.TracePoints {
	out := make(models.TracePoints, len(b.points))
	copy(out, b.points)
	return out
}
