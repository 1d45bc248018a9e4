package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ListSegments 分页获取用户的涂色路段
// GET /api/users/:id/segments
func (h *Handler) ListSegments(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	segments, err := h.segmentRepo.ListByUser(c.Request.Context(), userID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list segments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list segments"})
		return
	}

	total, _ := h.segmentRepo.CountByUser(c.Request.Context(), userID)

	c.JSON(http.StatusOK, gin.H{
		"data": segments,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetStats 获取用户累计统计
// GET /api/users/:id/stats
func (h *Handler) GetStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	totalSegments, segmentDistance, totalVisits, err := h.segmentRepo.GetStats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get segment stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	totalSessions, sessionDistance, totalDuration, err := h.sessionRepo.GetStats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get session stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"segments": gin.H{
				"total":       totalSegments,
				"distance_m":  segmentDistance,
				"visit_count": totalVisits,
			},
			"sessions": gin.H{
				"total":      totalSessions,
				"distance_m": sessionDistance,
				"duration_s": totalDuration,
			},
		},
	})
}

// ListSessions 分页获取用户的历史会话
// GET /api/users/:id/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	sessions, err := h.sessionRepo.ListByUser(c.Request.Context(), userID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	total, _ := h.sessionRepo.CountByUser(c.Request.Context(), userID)

	c.JSON(http.StatusOK, gin.H{
		"data": sessions,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetSession 获取会话详情
// GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	session, err := h.sessionRepo.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to get session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// GetSessionTrace 获取会话的落库轨迹
// GET /api/sessions/:id/trace
func (h *Handler) GetSessionTrace(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	trace, err := h.traceRepo.GetBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trace not found"})
			return
		}
		h.logger.Error("Failed to get trace", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trace"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": trace})
}
