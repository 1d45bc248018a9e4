package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/models"
	"github.com/langchou/roadpaint/internal/state"
	"github.com/langchou/roadpaint/internal/tracker"
	"github.com/langchou/roadpaint/pkg/ws"
)

// Ingest 处理一个原始定位
// 会话非 active 时定位被静默丢弃，返回当前状态快照；
// 处理链路为 过滤 → 测距 → 涂色 → 缓冲，整体在会话锁内顺序执行
func (s *TrackingService) Ingest(ctx context.Context, userID int64, fix *models.LocationFix) (*state.SessionState, error) {
	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.machine.CurrentState() != state.StateActive {
		return sess.machine.GetState(), nil
	}

	if !sess.filter.Accept(fix) {
		s.logger.Debug("Dropped low accuracy fix",
			zap.Int64("user_id", userID),
			zap.Float64("accuracy_m", fix.AccuracyM))
		return sess.machine.GetState(), nil
	}

	delta := sess.tracker.Update(fix)

	sess.machine.UpdateState(func(st *state.SessionState) {
		st.Latitude = fix.Latitude
		st.Longitude = fix.Longitude
		st.AccuracyM = fix.AccuracyM
		st.TotalDistanceM += delta.DistanceM
		st.SpeedMps = delta.SpeedMps
	})

	// 位移超过涂色门槛才判定路段，低速抖动不会涂色
	if delta.DistanceM > s.policy.PaintThresholdM && delta.Prev != nil {
		paint := sess.painter.Paint(delta.Prev, fix, delta.DistanceM)
		paint.Segment.UserID = userID

		if paint.IsNew {
			sess.machine.UpdateState(func(st *state.SessionState) {
				st.NewSegments++
			})
			if s.wsHub != nil {
				s.wsHub.BroadcastToUser(userID, ws.MsgTypeSegmentPainted, paint.Segment)
			}
		}
		s.dispatchSegmentUpsert(userID, paint)
	}

	dec := sess.buffer.Append(fix)
	sess.machine.UpdateState(func(st *state.SessionState) {
		st.PointCount = dec.Seq
	})
	if dec.Due {
		s.dispatchTraceFlush(sess, dec)
	}

	st := sess.machine.GetState()
	s.notifySubscribers(st)
	s.broadcastState(st)
	return st, nil
}

// dispatchSegmentUpsert 派发异步路段写入
// 传入副本，落库 goroutine 不与后续涂色竞争
func (s *TrackingService) dispatchSegmentUpsert(userID int64, paint tracker.PaintResult) {
	segment := *paint.Segment

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.segmentRepo.Upsert(ctx, &segment); err != nil {
			s.logger.Warn("Failed to upsert segment",
				zap.Error(err),
				zap.Int64("user_id", userID),
				zap.String("segment_key", segment.Key))
			return
		}
		s.logger.Debug("Upserted segment",
			zap.String("segment_key", segment.Key),
			zap.Int("visit_count", segment.VisitCount))
	}()
}

// dispatchTraceFlush 派发异步轨迹落库
// 调用方必须持有 sess.mu
func (s *TrackingService) dispatchTraceFlush(sess *liveSession, dec tracker.FlushDecision) {
	gen := sess.flushGen
	sessionID := sess.machine.GetState().SessionID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flushTrace(sess, dec, gen, sessionID)
	}()
}

// flushTrace 执行一次轨迹落库
// 序号不超过已落库序号的快照已被后继全量覆盖，直接丢弃；
// 代次不匹配说明新会话已开始，旧会话的迟到快照作废。
// 写入失败不回滚缓冲，点仍在内存中，下个批次边界重试
func (s *TrackingService) flushTrace(sess *liveSession, dec tracker.FlushDecision, gen int, sessionID string) {
	sess.flushMu.Lock()
	defer sess.flushMu.Unlock()

	if gen != sess.flushGen || dec.Seq <= sess.lastFlushedSeq {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	traceID := sess.buffer.RemoteTraceID()
	if traceID == 0 {
		trace := &models.Trace{
			UserID:     sess.userID,
			SessionID:  sessionID,
			Points:     dec.Points,
			PointCount: dec.Seq,
			StartedAt:  dec.Points[0].RecordedAt,
		}
		if err := s.traceRepo.Create(ctx, trace); err != nil {
			s.logger.Warn("Failed to create trace, points retry at next boundary",
				zap.Error(err), zap.String("session_id", sessionID))
			return
		}
		sess.buffer.SetRemoteTraceID(trace.ID)
		sess.lastFlushedSeq = dec.Seq
		s.logger.Debug("Created trace",
			zap.Int64("trace_id", trace.ID), zap.Int("point_count", dec.Seq))
		return
	}

	if err := s.traceRepo.UpdatePoints(ctx, traceID, dec.Points); err != nil {
		s.logger.Warn("Failed to update trace, points retry at next boundary",
			zap.Error(err), zap.Int64("trace_id", traceID))
		return
	}
	sess.lastFlushedSeq = dec.Seq
	s.logger.Debug("Flushed trace points",
		zap.Int64("trace_id", traceID), zap.Int("point_count", dec.Seq))
}
