package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/config"
	"github.com/langchou/roadpaint/internal/repository"
	"github.com/langchou/roadpaint/internal/state"
	"github.com/langchou/roadpaint/internal/tracker"
	"github.com/langchou/roadpaint/pkg/ws"
)

// ErrNoActiveSession 用户没有追踪会话
var ErrNoActiveSession = errors.New("no active session")

// TrackingService 追踪服务
type TrackingService struct {
	cfg          *config.Config
	logger       *zap.Logger
	segmentRepo  *repository.SegmentRepository
	traceRepo    *repository.TraceRepository
	sessionRepo  *repository.SessionRepository
	stateManager *state.Manager
	wsHub        *ws.Hub

	policy tracker.Policy

	mu          sync.RWMutex
	sessions    map[int64]*liveSession
	stopCh      chan struct{}
	wg          sync.WaitGroup
	subscribers []chan *state.SessionState
	running     bool // 标记服务是否正在运行
}

// liveSession 单个用户的在线追踪状态
// mu 串行化该用户的定位处理全链路（过滤、测距、涂色、缓冲）；
// flushMu 串行化异步落库，序号判定与远端轨迹 ID 只在其保护下读写，
// 落库期间不阻塞定位处理
type liveSession struct {
	mu      sync.Mutex
	userID  int64
	machine *state.Machine
	filter  *tracker.FixFilter
	tracker *tracker.DistanceTracker
	painter *tracker.SegmentPainter
	buffer  *tracker.TraceBuffer

	flushMu        sync.Mutex
	lastFlushedSeq int
	flushGen       int // 随会话重开递增，旧会话的迟到落库据此作废
}

// NewTrackingService 创建追踪服务
func NewTrackingService(
	cfg *config.Config,
	logger *zap.Logger,
	segmentRepo *repository.SegmentRepository,
	traceRepo *repository.TraceRepository,
	sessionRepo *repository.SessionRepository,
	wsHub *ws.Hub,
) *TrackingService {
	svc := &TrackingService{
		cfg:         cfg,
		logger:      logger,
		segmentRepo: segmentRepo,
		traceRepo:   traceRepo,
		sessionRepo: sessionRepo,
		wsHub:       wsHub,
		policy: tracker.Policy{
			AccuracyLimitM:  cfg.AccuracyLimitM,
			JitterFloorM:    cfg.JitterFloorM,
			PaintThresholdM: cfg.PaintThresholdM,
			TraceBatchSize:  cfg.TraceBatchSize,
			GridPrecision:   cfg.GridPrecision,
		},
		sessions: make(map[int64]*liveSession),
		stopCh:   make(chan struct{}),
	}

	// 创建状态管理器
	svc.stateManager = state.NewManager(svc.onStateChange)

	return svc
}

// Start 启动服务
func (s *TrackingService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Tracking service already running, skipping start")
		return nil
	}
	// 重新初始化 stopCh（防止重复启动问题）
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting tracking service")

	s.wg.Add(1)
	go s.tickLoop(ctx)

	s.logger.Info("Tracking service started, tick loop running")
	return nil
}

// Stop 停止服务
// 停止前对进行中的会话做一次最终落库并等待写完
func (s *TrackingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping tracking service")

	s.flushAllSessions()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Tracking service stopped")
}

// Subscribe 订阅状态更新
func (s *TrackingService) Subscribe() <-chan *state.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *state.SessionState, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// GetSessionState 获取用户会话状态
func (s *TrackingService) GetSessionState(userID int64) (*state.SessionState, bool) {
	machine, ok := s.stateManager.Get(userID)
	if !ok {
		return nil, false
	}
	return machine.GetState(), true
}

// tickLoop 秒针循环
// 只为 active 会话累加时长，暂停期间不计时
func (s *TrackingService) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ElapsedTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickSessions()
		}
	}
}

func (s *TrackingService) tickSessions() {
	for _, sess := range s.snapshotSessions() {
		if sess.machine.CurrentState() != state.StateActive {
			continue
		}
		sess.machine.UpdateState(func(st *state.SessionState) {
			st.ElapsedSeconds++
		})
	}
}

// flushAllSessions 对所有会话做最终落库
func (s *TrackingService) flushAllSessions() {
	for _, sess := range s.snapshotSessions() {
		sess.mu.Lock()
		dec := sess.buffer.FlushNow()
		if dec.Due {
			s.dispatchTraceFlush(sess, dec)
		}
		sess.mu.Unlock()
	}
}

func (s *TrackingService) snapshotSessions() []*liveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*liveSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// getOrCreateSession 获取或创建用户的在线会话
func (s *TrackingService) getOrCreateSession(userID int64) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	sess := &liveSession{
		userID:  userID,
		machine: s.stateManager.GetOrCreate(userID, ""),
		filter:  tracker.NewFixFilter(s.policy.AccuracyLimitM),
		tracker: tracker.NewDistanceTracker(s.policy.JitterFloorM),
		painter: tracker.NewSegmentPainter(s.policy.GridPrecision),
		buffer:  tracker.NewTraceBuffer(s.policy.TraceBatchSize),
	}
	s.sessions[userID] = sess
	return sess
}

func (s *TrackingService) getSession(userID int64) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// onStateChange 状态机转换回调
func (s *TrackingService) onStateChange(userID int64, from, to string) {
	s.logger.Info("Session state changed", zap.Int64("user_id", userID), zap.String("from", from), zap.String("to", to))

	if s.wsHub != nil {
		s.wsHub.BroadcastToUser(userID, ws.MsgTypeStateChange, map[string]string{
			"from": from,
			"to":   to,
		})
	}
}

// notifySubscribers 通知进程内订阅者
func (s *TrackingService) notifySubscribers(st *state.SessionState) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			// 跳过慢消费者
		}
	}
}

// broadcastState 推送状态到 WebSocket
func (s *TrackingService) broadcastState(st *state.SessionState) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastToUser(st.UserID, ws.MsgTypePositionUpdate, st)
	s.logger.Debug("Broadcasted position update", zap.Int64("user_id", st.UserID))
}
