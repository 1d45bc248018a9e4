package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/repository"
	"github.com/langchou/roadpaint/internal/service"
	"github.com/langchou/roadpaint/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger          *zap.Logger
	segmentRepo     *repository.SegmentRepository
	traceRepo       *repository.TraceRepository
	sessionRepo     *repository.SessionRepository
	trackingService *service.TrackingService
	wsHub           *ws.Hub
	upgrader        websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	segmentRepo *repository.SegmentRepository,
	traceRepo *repository.TraceRepository,
	sessionRepo *repository.SessionRepository,
	trackingService *service.TrackingService,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:          logger,
		segmentRepo:     segmentRepo,
		traceRepo:       traceRepo,
		sessionRepo:     sessionRepo,
		trackingService: trackingService,
		wsHub:           wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 追踪控制
		api.POST("/users/:id/tracking/start", h.StartTracking)
		api.POST("/users/:id/tracking/pause", h.PauseTracking)
		api.POST("/users/:id/tracking/resume", h.ResumeTracking)
		api.POST("/users/:id/tracking/stop", h.StopTracking)
		api.POST("/users/:id/tracking/fix", h.IngestFix)
		api.GET("/users/:id/tracking/state", h.GetTrackingState)

		// 路段
		api.GET("/users/:id/segments", h.ListSegments)
		api.GET("/users/:id/stats", h.GetStats)

		// 会话与轨迹
		api.GET("/users/:id/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/trace", h.GetSessionTrace)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
// 连接按 user_id 归组，只收到自己的广播
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, userID)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
