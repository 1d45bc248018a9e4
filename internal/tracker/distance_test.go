package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/roadpaint/internal/models"
)

func fixAt(lat, lng float64, at time.Time) *models.LocationFix {
	return &models.LocationFix{Latitude: lat, Longitude: lng, AccuracyM: 5, RecordedAt: at}
}

func TestDistanceTrackerFirstFixIsBaseline(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	res := tr.Update(fixAt(40.0, -74.0, base))
	assert.Zero(t, res.DistanceM)
	assert.Zero(t, res.SpeedMps)
	assert.Nil(t, res.Prev)
	require.NotNil(t, tr.LastFix())
	assert.Equal(t, 40.0, tr.LastFix().Latitude)
}

func TestDistanceTrackerDeltaAndSpeed(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tr.Update(fixAt(40.0000, -74.0000, base))
	res := tr.Update(fixAt(40.0010, -74.0000, base.Add(10*time.Second)))

	assert.InDelta(t, 111.19, res.DistanceM, 0.05)
	assert.InDelta(t, 11.12, res.SpeedMps, 0.01)
	require.NotNil(t, res.Prev)
	assert.Equal(t, 40.0, res.Prev.Latitude)
}

func TestDistanceTrackerNonPositiveInterval(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tr.Update(fixAt(40.0000, -74.0000, base))

	// 时间戳回退：不计距离，参考点不动
	res := tr.Update(fixAt(40.0010, -74.0000, base.Add(-time.Second)))
	assert.Zero(t, res.DistanceM)
	assert.Zero(t, res.SpeedMps)
	assert.Equal(t, 40.0, tr.LastFix().Latitude)

	res = tr.Update(fixAt(40.0010, -74.0000, base))
	assert.Zero(t, res.DistanceM)
	assert.Equal(t, 40.0, tr.LastFix().Latitude)

	// 后续正常定位仍从原参考点量起
	res = tr.Update(fixAt(40.0010, -74.0000, base.Add(10*time.Second)))
	assert.InDelta(t, 111.19, res.DistanceM, 0.05)
}

func TestDistanceTrackerJitterAdvancesReference(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tr.Update(fixAt(40.0, -74.0, base))

	// 每步约 0.28m，低于噪声地板
	res := tr.Update(fixAt(40.0000025, -74.0, base.Add(time.Second)))
	assert.Zero(t, res.DistanceM)

	// 参考点已推进，第二步仍从上一点量起，静止漂移不会累积成位移
	res = tr.Update(fixAt(40.0000050, -74.0, base.Add(2*time.Second)))
	assert.Zero(t, res.DistanceM)
	assert.Equal(t, 40.0000050, tr.LastFix().Latitude)
}

func TestDistanceTrackerSmallStepCounts(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tr.Update(fixAt(40.0, -74.0, base))
	res := tr.Update(fixAt(40.000006, -74.0, base.Add(time.Second)))
	assert.InDelta(t, 0.667, res.DistanceM, 0.01)
	assert.InDelta(t, 0.667, res.SpeedMps, 0.01)
}

func TestDistanceTrackerReset(t *testing.T) {
	tr := NewDistanceTracker(0.5)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tr.Update(fixAt(40.0, -74.0, base))
	tr.Reset()
	assert.Nil(t, tr.LastFix())

	// 重置后第一笔重新作为基准
	res := tr.Update(fixAt(41.0, -75.0, base.Add(time.Hour)))
	assert.Zero(t, res.DistanceM)
}
