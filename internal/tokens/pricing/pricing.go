// Package pricing holds the pure token arithmetic. Every amount is rounded
// half away from zero to eight decimal places.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const Places int32 = 8

var (
	bytesPerGB     = decimal.NewFromInt(1 << 30)
	minutesPerHour = decimal.NewFromInt(60)
	secondsPerHour = decimal.NewFromInt(3600)
	maxMiningHours = decimal.NewFromInt(24)
	three          = decimal.NewFromInt(3)
	hundred        = decimal.NewFromInt(100)
	thousand       = decimal.NewFromInt(1000)
)

// SessionCost is bytes / 2^30 * costPerGB.
func SessionCost(bytes int64, costPerGB decimal.Decimal) decimal.Decimal {
	if bytes <= 0 || !costPerGB.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(bytes).Mul(costPerGB).Div(bytesPerGB).Round(Places)
}

// SessionReward is minutes/60 * baseRate * multiplier.
func SessionReward(minutes int64, baseRate, multiplier decimal.Decimal) decimal.Decimal {
	if minutes <= 0 || !baseRate.IsPositive() || !multiplier.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(minutes).Mul(baseRate).Mul(multiplier).Div(minutesPerHour).Round(Places)
}

// WholeMinutes truncates d to complete minutes.
func WholeMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// PerformanceMultiplier is the mean of (1 - cpu/100), (1 - mem/100) and
// min(net/1000, 1), each clamped to [0, 1]. A missing metric contributes 0.
func PerformanceMultiplier(cpu, mem, net *float64) decimal.Decimal {
	cpuTerm := decimal.Zero
	if cpu != nil {
		cpuTerm = clampUnit(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(*cpu).Div(hundred)))
	}
	memTerm := decimal.Zero
	if mem != nil {
		memTerm = clampUnit(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(*mem).Div(hundred)))
	}
	netTerm := decimal.Zero
	if net != nil {
		netTerm = clampUnit(decimal.NewFromFloat(*net).Div(thousand))
	}
	return cpuTerm.Add(memTerm).Add(netTerm).Div(three)
}

// MiningAccrual is min(hours since, 24) * rate.
func MiningAccrual(since, now time.Time, rate decimal.Decimal) decimal.Decimal {
	if !now.After(since) || !rate.IsPositive() {
		return decimal.Zero
	}
	hours := decimal.NewFromFloat(now.Sub(since).Seconds()).Div(secondsPerHour)
	if hours.GreaterThan(maxMiningHours) {
		hours = maxMiningHours
	}
	return hours.Mul(rate).Round(Places)
}

func clampUnit(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}
