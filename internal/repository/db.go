package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateSegments,
		migrationCreateTraces,
		migrationCreateTrackSessions,
		migrationAddPointCountToTraces,
		migrationAddSegmentStatsToSessions,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateSegments = `
CREATE TABLE IF NOT EXISTS segments (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    segment_key VARCHAR(64) NOT NULL,
    geometry JSONB NOT NULL,
    distance_meters DOUBLE PRECISION DEFAULT 0,
    visit_count INT NOT NULL DEFAULT 1,
    first_visited_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    last_visited_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE (user_id, segment_key)
);
CREATE INDEX IF NOT EXISTS idx_segments_user_id ON segments(user_id);
CREATE INDEX IF NOT EXISTS idx_segments_last_visited_at ON segments(last_visited_at);
`

const migrationCreateTraces = `
CREATE TABLE IF NOT EXISTS traces (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    session_id UUID NOT NULL,
    points JSONB NOT NULL DEFAULT '[]',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_traces_user_id ON traces(user_id);
CREATE INDEX IF NOT EXISTS idx_traces_session_id ON traces(session_id);
`

const migrationCreateTrackSessions = `
CREATE TABLE IF NOT EXISTS track_sessions (
    id UUID PRIMARY KEY,
    user_id BIGINT NOT NULL,
    state VARCHAR(20) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    distance_meters DOUBLE PRECISION DEFAULT 0,
    duration_seconds BIGINT DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_track_sessions_user_id ON track_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_track_sessions_started_at ON track_sessions(started_at);
`

// 添加轨迹点数字段到 traces 表，并修复历史数据
const migrationAddPointCountToTraces = `
-- 添加点数字段
ALTER TABLE traces ADD COLUMN IF NOT EXISTS point_count INT NOT NULL DEFAULT 0;

-- 修复历史轨迹数据：从 JSONB 数组回填点数
UPDATE traces SET point_count = jsonb_array_length(points)
WHERE point_count = 0 AND jsonb_array_length(points) > 0;
`

// 添加新路段计数字段到 track_sessions 表
const migrationAddSegmentStatsToSessions = `
ALTER TABLE track_sessions ADD COLUMN IF NOT EXISTS new_segment_count INT DEFAULT 0;
`
