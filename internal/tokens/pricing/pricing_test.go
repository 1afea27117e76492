package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func fp(v float64) *float64 { return &v }

func TestSessionCost(t *testing.T) {
	cost := SessionCost(1_073_741_824, decimal.RequireFromString("0.1"))
	assert.Equal(t, "0.10000000", cost.StringFixed(Places))

	half := SessionCost(512<<20, decimal.RequireFromString("0.1"))
	assert.Equal(t, "0.05000000", half.StringFixed(Places))

	assert.True(t, SessionCost(0, decimal.RequireFromString("0.1")).IsZero())
	assert.True(t, SessionCost(-5, decimal.RequireFromString("0.1")).IsZero())
}

func TestSessionCostRoundsHalfUp(t *testing.T) {
	// 1 byte at 1 token/GB is 9.3132257e-10, below the last kept place.
	assert.True(t, SessionCost(1, decimal.NewFromInt(1)).IsZero())
	// 5 bytes at 1 token/GB is 4.66e-9, rounds to 0.00000000.
	assert.Equal(t, "0.00000000", SessionCost(5, decimal.NewFromInt(1)).StringFixed(Places))
	// 6 bytes is 5.59e-9, rounds up to 0.00000001.
	assert.Equal(t, "0.00000001", SessionCost(6, decimal.NewFromInt(1)).StringFixed(Places))
}

func TestSessionReward(t *testing.T) {
	multiplier := PerformanceMultiplier(fp(20), fp(40), fp(500))
	// (0.8 + 0.6 + 0.5) / 3
	assert.Equal(t, "0.63333333", multiplier.StringFixed(Places))

	reward := SessionReward(WholeMinutes(30*time.Minute), decimal.NewFromInt(1), multiplier)
	assert.Equal(t, "0.31666667", reward.StringFixed(Places))

	again := SessionReward(WholeMinutes(30*time.Minute), decimal.NewFromInt(1), PerformanceMultiplier(fp(20), fp(40), fp(500)))
	assert.True(t, reward.Equal(again))
}

func TestPerformanceMultiplierClampsAndMissing(t *testing.T) {
	assert.Equal(t, "0.00000000", PerformanceMultiplier(nil, nil, nil).StringFixed(Places))
	assert.Equal(t, "1.00000000", PerformanceMultiplier(fp(0), fp(0), fp(5000)).StringFixed(Places))
	assert.Equal(t, "0.00000000", PerformanceMultiplier(fp(150), fp(100), fp(-10)).StringFixed(Places))
	assert.Equal(t, "0.33333333", PerformanceMultiplier(fp(0), nil, nil).StringFixed(Places))
}

func TestWholeMinutes(t *testing.T) {
	assert.Equal(t, int64(0), WholeMinutes(59*time.Second))
	assert.Equal(t, int64(1), WholeMinutes(119*time.Second))
	assert.Equal(t, int64(0), WholeMinutes(-time.Minute))
}

func TestMiningAccrual(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rate := decimal.RequireFromString("0.5")

	assert.Equal(t, "1.50000000", MiningAccrual(start, start.Add(3*time.Hour), rate).StringFixed(Places))
	assert.Equal(t, "12.00000000", MiningAccrual(start, start.Add(72*time.Hour), rate).StringFixed(Places))
	assert.True(t, MiningAccrual(start, start, rate).IsZero())
	assert.True(t, MiningAccrual(start.Add(time.Hour), start, rate).IsZero())
}
