package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" daily ")
	require.NoError(t, err)
	assert.Equal(t, PeriodDaily, p)

	_, err = ParsePeriod("weekly")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPreviousWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)

	cases := []struct {
		period Period
		start  time.Time
		end    time.Time
	}{
		{PeriodHourly, time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodDaily, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodMonthly, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			start, end := tc.period.PreviousWindow(now, time.UTC)
			assert.True(t, tc.start.Equal(start), "start %s", start)
			assert.True(t, tc.end.Equal(end), "end %s", end)
		})
	}
}

func TestTruncateUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 18:30 UTC is 01:30 the next day in Jakarta.
	ts := time.Date(2026, 5, 10, 18, 30, 0, 0, time.UTC)
	start := PeriodDaily.Truncate(ts, loc)

	assert.Equal(t, 11, start.Day())
	assert.True(t, start.Equal(time.Date(2026, 5, 10, 17, 0, 0, 0, time.UTC)))
}

func TestNextMonthly(t *testing.T) {
	start := PeriodMonthly.Truncate(time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC), time.UTC)
	assert.True(t, PeriodMonthly.Next(start).Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
}
