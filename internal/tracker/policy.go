package tracker

// Policy 轨迹处理阈值策略
// 阈值来源于线上观测值，按配置注入，不写死在各组件里
type Policy struct {
	AccuracyLimitM  float64 // 定位精度上限（米），超过即丢弃
	JitterFloorM    float64 // 最小位移（米），低于视为 GPS 抖动
	PaintThresholdM float64 // 触发路段涂色的最小位移（米）
	TraceBatchSize  int     // 轨迹批量刷新的点数
	GridPrecision   int     // 路段网格量化的小数位数
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		AccuracyLimitM:  50,
		JitterFloorM:    0.5,
		PaintThresholdM: 20,
		TraceBatchSize:  15,
		GridPrecision:   3,
	}
}
