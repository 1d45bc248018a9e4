package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TracePoint 轨迹点（轨迹序列中的一个采样）
type TracePoint struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	RecordedAt time.Time `json:"ts"`
}

// TracePoints 轨迹点序列，整体以 JSONB 存储
type TracePoints []TracePoint

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (p TracePoints) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (p *TracePoints) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Trace 一次跟踪会话的完整轨迹
// 每个会话对应一条记录，批量刷新时整体覆盖 points
type Trace struct {
	ID         int64       `json:"id" db:"id"`
	UserID     int64       `json:"user_id" db:"user_id"`
	SessionID  string      `json:"session_id" db:"session_id"`
	Points     TracePoints `json:"points" db:"points"`
	PointCount int         `json:"point_count" db:"point_count"`
	StartedAt  time.Time   `json:"started_at" db:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}
