package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/roadpaint/internal/models"
)

// SessionRepository 追踪会话数据仓库
type SessionRepository struct {
	q Querier
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(q Querier) *SessionRepository {
	return &SessionRepository{q: q}
}

// Create 创建会话
func (r *SessionRepository) Create(ctx context.Context, session *models.TrackSession) error {
	query := `
		INSERT INTO track_sessions (id, user_id, state, started_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.q.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.State,
		session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert track session: %w", err)
	}
	return nil
}

// UpdateState 更新会话状态
func (r *SessionRepository) UpdateState(ctx context.Context, sessionID, state string) error {
	query := `UPDATE track_sessions SET state = $1 WHERE id = $2`
	_, err := r.q.Exec(ctx, query, state, sessionID)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

// Complete 结束会话并写入最终统计
func (r *SessionRepository) Complete(ctx context.Context, session *models.TrackSession) error {
	query := `
		UPDATE track_sessions SET
			state = $1,
			ended_at = $2,
			distance_meters = $3,
			duration_seconds = $4,
			new_segment_count = $5
		WHERE id = $6
	`
	endedAt := time.Now()
	_, err := r.q.Exec(ctx, query,
		session.State,
		endedAt,
		session.DistanceM,
		session.DurationS,
		session.NewSegmentCount,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("complete track session: %w", err)
	}

	session.EndedAt = &endedAt
	return nil
}

// GetByID 获取会话
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.TrackSession, error) {
	query := `
		SELECT id, user_id, state, started_at, ended_at, distance_meters, duration_seconds, new_segment_count
		FROM track_sessions WHERE id = $1
	`
	session := &models.TrackSession{}
	err := r.q.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.State,
		&session.StartedAt,
		&session.EndedAt,
		&session.DistanceM,
		&session.DurationS,
		&session.NewSegmentCount,
	)
	if err != nil {
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return session, nil
}

// ListByUser 分页获取用户会话列表
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.TrackSession, error) {
	query := `
		SELECT id, user_id, state, started_at, ended_at, distance_meters, duration_seconds, new_segment_count
		FROM track_sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.TrackSession
	for rows.Next() {
		session := &models.TrackSession{}
		err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.State,
			&session.StartedAt,
			&session.EndedAt,
			&session.DistanceM,
			&session.DurationS,
			&session.NewSegmentCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// CountByUser 统计用户会话数
func (r *SessionRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM track_sessions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// GetStats 获取已完成会话统计
func (r *SessionRepository) GetStats(ctx context.Context, userID int64) (totalSessions int64, totalDistance float64, totalDuration int64, err error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(distance_meters), 0), COALESCE(SUM(duration_seconds), 0)
		FROM track_sessions WHERE user_id = $1 AND ended_at IS NOT NULL
	`
	err = r.q.QueryRow(ctx, query, userID).Scan(&totalSessions, &totalDistance, &totalDuration)
	if err != nil {
		err = fmt.Errorf("get session stats: %w", err)
	}
	return
}
