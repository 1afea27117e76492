package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"github.com/smallbiznis/vpnledger/internal/stats/repository"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	conn  *gorm.DB
	clock *clock.FakeClock
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&sessiondomain.Session{}, &statsdomain.Aggregate{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 5, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Config: config.Config{Scheduler: config.SchedulerConfig{Timezone: "UTC"}},
		Repo:   repository.Provide(),
	}).(*Service)
	return &fixture{conn: conn, clock: fake, svc: svc}
}

func fp(v float64) *float64 { return &v }

func (f *fixture) session(t *testing.T, s sessiondomain.Session) {
	t.Helper()
	require.NoError(t, f.conn.Create(&s).Error)
}

func ended(start time.Time, d time.Duration) *time.Time {
	end := start.Add(d)
	return &end
}

func TestAggregateWindowGroupsByUserAndServer(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)

	f.session(t, sessiondomain.Session{
		ID: 1, UserID: 1, ServerID: 10, StartedAt: base.Add(5 * time.Minute), EndedAt: ended(base.Add(5*time.Minute), 20*time.Minute),
		DataTransferredBytes: 1000, CPUUsage: fp(20), LatencyMs: fp(40),
		TokensCost: decimal.RequireFromString("0.1"), TokensEarned: decimal.RequireFromString("0.2"),
	})
	f.session(t, sessiondomain.Session{
		ID: 2, UserID: 1, ServerID: 10, StartedAt: base.Add(30 * time.Minute), EndedAt: ended(base.Add(30*time.Minute), 10*time.Minute+30*time.Second),
		DataTransferredBytes: 500, CPUUsage: fp(40),
		TokensCost: decimal.RequireFromString("0.05"), TokensEarned: decimal.RequireFromString("0.1"),
	})
	f.session(t, sessiondomain.Session{
		ID: 3, UserID: 2, ServerID: 10, StartedAt: base.Add(50 * time.Minute), EndedAt: ended(base.Add(50*time.Minute), time.Minute),
		DataTransferredBytes: 7,
	})
	// Outside the window.
	f.session(t, sessiondomain.Session{
		ID: 4, UserID: 1, ServerID: 10, StartedAt: base.Add(-time.Minute), EndedAt: ended(base.Add(-time.Minute), time.Minute),
		DataTransferredBytes: 9999,
	})

	result, err := f.svc.RunPeriod(context.Background(), statsdomain.PeriodHourly)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Sessions)
	assert.Equal(t, 2, result.Groups)
	assert.True(t, result.Start.Equal(base))

	rows, err := f.svc.ListAggregates(context.Background(), statsdomain.AggregateFilter{
		Period: statsdomain.PeriodHourly, From: base, To: base.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, snowflake.ID(1), first.UserID)
	assert.Equal(t, int64(1500), first.TotalData)
	assert.Equal(t, int64(2), first.TotalConnections)
	assert.Equal(t, int64(30), first.TotalMinutes)
	require.NotNil(t, first.AvgCPU)
	assert.InDelta(t, 30, *first.AvgCPU, 1e-9)
	require.NotNil(t, first.AvgLatency)
	assert.InDelta(t, 40, *first.AvgLatency, 1e-9)
	assert.Nil(t, first.AvgMemory)
	assert.Equal(t, "0.15000000", first.TotalTokensCost.StringFixed(8))
	assert.Equal(t, "0.30000000", first.TotalTokensEarned.StringFixed(8))

	second := rows[1]
	assert.Equal(t, snowflake.ID(2), second.UserID)
	assert.Nil(t, second.AvgCPU)
}

func TestAggregateWindowIsIdempotent(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	f.session(t, sessiondomain.Session{
		ID: 1, UserID: 1, ServerID: 10, StartedAt: base, EndedAt: ended(base, 5*time.Minute), DataTransferredBytes: 100,
	})

	ctx := context.Background()
	_, err := f.svc.AggregateWindow(ctx, statsdomain.PeriodHourly, base.Add(15*time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&sessiondomain.Session{}).Where("id = ?", 1).Update("data_transferred_bytes", 250).Error)
	_, err = f.svc.AggregateWindow(ctx, statsdomain.PeriodHourly, base)
	require.NoError(t, err)

	var rows []statsdomain.Aggregate
	require.NoError(t, f.conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(250), rows[0].TotalData)
}

func TestAggregateWindowEmpty(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.RunPeriod(context.Background(), statsdomain.PeriodDaily)
	require.NoError(t, err)
	assert.Zero(t, result.Sessions)
	assert.Zero(t, result.Groups)
}

func TestBackfillCoversEveryWindow(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := day.AddDate(0, 0, i).Add(time.Hour)
		f.session(t, sessiondomain.Session{
			ID: snowflake.ID(i + 1), UserID: 1, ServerID: 10, StartedAt: start, EndedAt: ended(start, time.Hour), DataTransferredBytes: 10,
		})
	}

	results, err := f.svc.Backfill(context.Background(), statsdomain.PeriodDaily, day, day.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, 1, r.Groups)
	}

	var count int64
	require.NoError(t, f.conn.Model(&statsdomain.Aggregate{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestBackfillRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	_, err := f.svc.Backfill(context.Background(), statsdomain.Period("WEEKLY"), now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, statsdomain.ErrInvalidPeriod)

	_, err = f.svc.Backfill(context.Background(), statsdomain.PeriodHourly, now, now)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
