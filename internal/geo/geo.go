package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM 地球平均半径（米）
const EarthRadiusM = 6371000.0

// Distance 计算两点间的大圆距离（米），使用 Haversine 公式
// 对极小间距数值稳定：相同坐标返回 0，结果恒 >= 0
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// Quantize 将坐标值按指定小数位数四舍五入
func Quantize(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

// SegmentKey 由坐标生成路段网格键
// 纬度和经度各自独立量化后拼接，3 位小数约对应 100 米网格
func SegmentKey(lat, lng float64, precision int) string {
	return fmt.Sprintf("%.*f,%.*f", precision, Quantize(lat, precision), precision, Quantize(lng, precision))
}
