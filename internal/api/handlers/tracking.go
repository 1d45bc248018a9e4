package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/models"
	"github.com/langchou/roadpaint/internal/service"
	"github.com/langchou/roadpaint/internal/state"
)

// StartTracking 开始追踪会话
// POST /api/users/:id/tracking/start
func (h *Handler) StartTracking(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	st, err := h.trackingService.StartTracking(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, state.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to start tracking", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start tracking"})
		return
	}

	h.logger.Info("Tracking started via API", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// PauseTracking 暂停追踪会话
// POST /api/users/:id/tracking/pause
func (h *Handler) PauseTracking(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	st, err := h.trackingService.PauseTracking(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
			return
		}
		if errors.Is(err, state.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to pause tracking", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to pause tracking"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}

// ResumeTracking 恢复追踪会话
// POST /api/users/:id/tracking/resume
func (h *Handler) ResumeTracking(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	st, err := h.trackingService.ResumeTracking(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
			return
		}
		if errors.Is(err, state.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to resume tracking", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resume tracking"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}

// StopTracking 结束追踪会话
// POST /api/users/:id/tracking/stop
func (h *Handler) StopTracking(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	st, err := h.trackingService.StopTracking(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
			return
		}
		if errors.Is(err, state.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to stop tracking", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop tracking"})
		return
	}

	h.logger.Info("Tracking stopped via API", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// IngestFix 接收一次定位上报
// POST /api/users/:id/tracking/fix
// recorded_at 为 Unix 毫秒，缺省取服务端当前时间
func (h *Handler) IngestFix(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req struct {
		Latitude   float64 `json:"latitude"`
		Longitude  float64 `json:"longitude"`
		AccuracyM  float64 `json:"accuracy_m"`
		RecordedAt int64   `json:"recorded_at"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates out of range"})
		return
	}

	fix := &models.LocationFix{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		AccuracyM:  req.AccuracyM,
		RecordedAt: time.UnixMilli(req.RecordedAt),
	}
	if req.RecordedAt == 0 {
		fix.RecordedAt = time.Now()
	}

	st, err := h.trackingService.Ingest(c.Request.Context(), userID, fix)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
			return
		}
		h.logger.Error("Failed to ingest fix", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest fix"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}

// GetTrackingState 获取实时追踪状态
// GET /api/users/:id/tracking/state
func (h *Handler) GetTrackingState(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	st, ok := h.trackingService.GetSessionState(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session state not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}
