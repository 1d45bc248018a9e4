package models

import "time"

// TrackSession 跟踪会话记录
type TrackSession struct {
	ID              string     `json:"id" db:"id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	State           string     `json:"state" db:"state"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DistanceM       float64    `json:"distance_m" db:"distance_m"`
	DurationS       int64      `json:"duration_s" db:"duration_s"`
	NewSegmentCount int        `json:"new_segment_count" db:"new_segment_count"`
}
