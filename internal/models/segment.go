package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// LineString 路段几何，[lng, lat] 坐标对序列
type LineString [][2]float64

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (l LineString) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (l *LineString) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Segment 已涂色的路段
// 路段键由坐标网格量化得出，几何在首次创建后不再改写，重访只递增次数
type Segment struct {
	ID             int64      `json:"id" db:"id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	Key            string     `json:"segment_key" db:"segment_key"`
	Geometry       LineString `json:"geometry" db:"geometry"`
	DistanceM      float64    `json:"distance_m" db:"distance_m"`
	VisitCount     int        `json:"visit_count" db:"visit_count"`
	FirstVisitedAt time.Time  `json:"first_visited_at" db:"first_visited_at"`
	LastVisitedAt  time.Time  `json:"last_visited_at" db:"last_visited_at"`
}
