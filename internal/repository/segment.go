package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/roadpaint/internal/models"
)

// SegmentRepository 路段数据仓库
type SegmentRepository struct {
	q Querier
}

// NewSegmentRepository 创建路段仓库
func NewSegmentRepository(q Querier) *SegmentRepository {
	return &SegmentRepository{q: q}
}

// Upsert 写入或重访路段
// 冲突键为 (user_id, segment_key)：已有路段只累加访问次数并刷新时间，
// 几何与里程保持首次写入的值。累加操作可交换，异步写入乱序到达也不会丢计数
func (r *SegmentRepository) Upsert(ctx context.Context, segment *models.Segment) error {
	query := `
		INSERT INTO segments (user_id, segment_key, geometry, distance_meters, visit_count, first_visited_at, last_visited_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (user_id, segment_key) DO UPDATE SET
			visit_count = segments.visit_count + 1,
			last_visited_at = NOW()
		RETURNING id, visit_count
	`
	err := r.q.QueryRow(ctx, query,
		segment.UserID,
		segment.Key,
		segment.Geometry,
		segment.DistanceM,
	).Scan(&segment.ID, &segment.VisitCount)

	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

// ListByUser 分页获取用户路段列表
func (r *SegmentRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Segment, error) {
	query := `
		SELECT id, user_id, segment_key, geometry, distance_meters, visit_count, first_visited_at, last_visited_at
		FROM segments WHERE user_id = $1 ORDER BY last_visited_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// ListAllByUser 获取用户全部路段
// 会话开始时用于恢复涂色器的重访计数
func (r *SegmentRepository) ListAllByUser(ctx context.Context, userID int64) ([]*models.Segment, error) {
	query := `
		SELECT id, user_id, segment_key, geometry, distance_meters, visit_count, first_visited_at, last_visited_at
		FROM segments WHERE user_id = $1 ORDER BY id
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list all segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// CountByUser 统计用户路段数
func (r *SegmentRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM segments WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return count, nil
}

// GetStats 获取用户涂色统计
func (r *SegmentRepository) GetStats(ctx context.Context, userID int64) (totalSegments int64, totalDistance float64, totalVisits int64, err error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(distance_meters), 0), COALESCE(SUM(visit_count), 0)
		FROM segments WHERE user_id = $1
	`
	err = r.q.QueryRow(ctx, query, userID).Scan(&totalSegments, &totalDistance, &totalVisits)
	if err != nil {
		err = fmt.Errorf("get segment stats: %w", err)
	}
	return
}

func scanSegments(rows pgx.Rows) ([]*models.Segment, error) {
	var segments []*models.Segment
	for rows.Next() {
		segment := &models.Segment{}
		err := rows.Scan(
			&segment.ID,
			&segment.UserID,
			&segment.Key,
			&segment.Geometry,
			&segment.DistanceM,
			&segment.VisitCount,
			&segment.FirstVisitedAt,
			&segment.LastVisitedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}

	return segments, nil
}
