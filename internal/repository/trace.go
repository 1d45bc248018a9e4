package repository

import (
	"context"
	"fmt"

	"github.com/langchou/roadpaint/internal/models"
)

// TraceRepository 轨迹数据仓库
type TraceRepository struct {
	q Querier
}

// NewTraceRepository 创建轨迹仓库
func NewTraceRepository(q Querier) *TraceRepository {
	return &TraceRepository{q: q}
}

// Create 创建轨迹
func (r *TraceRepository) Create(ctx context.Context, trace *models.Trace) error {
	query := `
		INSERT INTO traces (user_id, session_id, points, point_count, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		trace.UserID,
		trace.SessionID,
		trace.Points,
		trace.PointCount,
		trace.StartedAt,
	).Scan(&trace.ID)

	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// UpdatePoints 覆盖写入轨迹点
// 每次写入都是自起点以来的完整序列，后写覆盖先写
func (r *TraceRepository) UpdatePoints(ctx context.Context, traceID int64, points models.TracePoints) error {
	query := `
		UPDATE traces SET points = $1, point_count = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.q.Exec(ctx, query, points, len(points), traceID)
	if err != nil {
		return fmt.Errorf("update trace points: %w", err)
	}
	return nil
}

// GetBySessionID 按会话获取轨迹
func (r *TraceRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Trace, error) {
	query := `
		SELECT id, user_id, session_id, points, point_count, started_at, updated_at
		FROM traces WHERE session_id = $1
	`
	trace := &models.Trace{}
	err := r.q.QueryRow(ctx, query, sessionID).Scan(
		&trace.ID,
		&trace.UserID,
		&trace.SessionID,
		&trace.Points,
		&trace.PointCount,
		&trace.StartedAt,
		&trace.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get trace by session: %w", err)
	}
	return trace, nil
}
