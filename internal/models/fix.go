package models

import "time"

// LocationFix 一次 GPS 定位
// 由外部定位源推送，摄入后不再修改
type LocationFix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m"` // 水平精度（米）
	RecordedAt time.Time `json:"recorded_at"`
}
