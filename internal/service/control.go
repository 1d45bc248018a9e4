package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/models"
	"github.com/langchou/roadpaint/internal/state"
)

// StartTracking 开始追踪会话
// 累计量清零，轨迹缓冲作废上一会话的内容，涂色器从存储恢复历史路段，
// 重访计数跨会话延续
func (s *TrackingService) StartTracking(ctx context.Context, userID int64) (*state.SessionState, error) {
	sess := s.getOrCreateSession(userID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.machine.Trigger(state.EventStart); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	startedAt := time.Now()

	sess.tracker.Reset()

	sess.flushMu.Lock()
	sess.buffer.Reset()
	sess.lastFlushedSeq = 0
	sess.flushGen++
	sess.flushMu.Unlock()

	sess.machine.UpdateState(func(st *state.SessionState) {
		st.SessionID = sessionID
		st.TotalDistanceM = 0
		st.SpeedMps = 0
		st.ElapsedSeconds = 0
		st.NewSegments = 0
		st.PointCount = 0
	})

	segments, err := s.segmentRepo.ListAllByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load segments, revisit counts start fresh",
			zap.Error(err), zap.Int64("user_id", userID))
	} else {
		sess.painter.Load(segments)
	}

	session := &models.TrackSession{
		ID:        sessionID,
		UserID:    userID,
		State:     state.StateActive,
		StartedAt: startedAt,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		s.logger.Error("Failed to create track session", zap.Error(err))
	} else {
		s.logger.Info("Started tracking session",
			zap.Int64("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Int("known_segments", sess.painter.Count()))
	}

	return sess.machine.GetState(), nil
}

// PauseTracking 暂停会话
// 暂停期间定位被丢弃，计时停走
func (s *TrackingService) PauseTracking(ctx context.Context, userID int64) (*state.SessionState, error) {
	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.machine.Trigger(state.EventPause); err != nil {
		return nil, err
	}

	st := sess.machine.GetState()
	if err := s.sessionRepo.UpdateState(ctx, st.SessionID, state.StatePaused); err != nil {
		s.logger.Warn("Failed to persist session state",
			zap.Error(err), zap.String("session_id", st.SessionID))
	}
	return st, nil
}

// ResumeTracking 恢复会话
func (s *TrackingService) ResumeTracking(ctx context.Context, userID int64) (*state.SessionState, error) {
	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.machine.Trigger(state.EventResume); err != nil {
		return nil, err
	}

	st := sess.machine.GetState()
	if err := s.sessionRepo.UpdateState(ctx, st.SessionID, state.StateActive); err != nil {
		s.logger.Warn("Failed to persist session state",
			zap.Error(err), zap.String("session_id", st.SessionID))
	}
	return st, nil
}

// StopTracking 结束会话
// 计时与速度清零，累计里程保留；轨迹做最终落库，会话行写入最终统计
func (s *TrackingService) StopTracking(ctx context.Context, userID int64) (*state.SessionState, error) {
	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.machine.Trigger(state.EventStop); err != nil {
		return nil, err
	}

	var (
		sessionID   string
		distanceM   float64
		durationS   int64
		newSegments int
	)
	sess.machine.UpdateState(func(st *state.SessionState) {
		sessionID = st.SessionID
		distanceM = st.TotalDistanceM
		durationS = st.ElapsedSeconds
		newSegments = st.NewSegments
		st.ElapsedSeconds = 0
		st.SpeedMps = 0
	})

	// 最终落库：不论批次计数走到哪里，同步全量写出，
	// 返回时轨迹已持久化或已记录失败
	dec := sess.buffer.FlushNow()
	if dec.Due {
		s.flushTrace(sess, dec, sess.flushGen, sessionID)
	}

	session := &models.TrackSession{
		ID:              sessionID,
		UserID:          userID,
		State:           state.StateStopped,
		DistanceM:       distanceM,
		DurationS:       durationS,
		NewSegmentCount: newSegments,
	}
	if err := s.sessionRepo.Complete(ctx, session); err != nil {
		s.logger.Error("Failed to complete track session", zap.Error(err))
	} else {
		s.logger.Info("Completed tracking session",
			zap.String("session_id", sessionID),
			zap.Float64("distance_m", distanceM),
			zap.Int64("duration_s", durationS),
			zap.Int("new_segments", newSegments))
	}

	return sess.machine.GetState(), nil
}
