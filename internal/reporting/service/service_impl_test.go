package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	accountservice "github.com/smallbiznis/vpnledger/internal/account/service"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	statsrepo "github.com/smallbiznis/vpnledger/internal/stats/repository"
	statsservice "github.com/smallbiznis/vpnledger/internal/stats/service"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	conn  *gorm.DB
	stats statsdomain.Service
	svc   *Service
}

var day = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&accountdomain.User{},
		&accountdomain.Server{},
		&sessiondomain.Session{},
		&statsdomain.Aggregate{},
	))
	require.NoError(t, conn.Create(&accountdomain.User{ID: 1, Email: "user@example.com"}).Error)
	require.NoError(t, conn.Create(&accountdomain.Server{ID: 10, Name: "sg-1", OperatorUserID: 1}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cfg := config.Config{Scheduler: config.SchedulerConfig{Timezone: "UTC"}}
	stats := statsservice.NewService(statsservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(day.AddDate(0, 0, 7)),
		Config: cfg,
		Repo:   statsrepo.Provide(),
	})
	svc := NewService(Params{
		Log:       zap.NewNop(),
		Stats:     stats,
		Directory: accountservice.NewDirectory(accountservice.Params{DB: conn}),
		History:   NewHistoryCache(cfg),
		Exports:   NewExportCache(cfg),
	}).(*Service)
	return &fixture{conn: conn, stats: stats, svc: svc}
}

func fp(v float64) *float64 { return &v }

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	start := day.Add(9 * time.Hour)
	end := start.Add(30 * time.Minute)
	require.NoError(t, f.conn.Create(&sessiondomain.Session{
		ID: 1, UserID: 1, ServerID: 10, StartedAt: start, EndedAt: &end,
		DataTransferredBytes: 1 << 30, CPUUsage: fp(12.5), NetworkSpeed: fp(80),
		TokensCost: decimal.RequireFromString("0.1"), TokensEarned: decimal.RequireFromString("0.05"),
	}).Error)
	// No directory rows for user 2 / server 20.
	lone := day.Add(10 * time.Hour)
	loneEnd := lone.Add(time.Minute)
	require.NoError(t, f.conn.Create(&sessiondomain.Session{
		ID: 2, UserID: 2, ServerID: 20, StartedAt: lone, EndedAt: &loneEnd,
	}).Error)
}

func TestExportDetailed(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	payload, err := f.svc.ExportCsv(context.Background(), reportingdomain.ExportRequest{
		Type: reportingdomain.ExportDetailed, From: day, To: day.AddDate(0, 0, 1),
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,User,Server,DataGB,CPU%,Mem%,NetworkMbps,ResponseTimeMs,TokensCost,TokensEarned,DurationMinutes", lines[0])
	assert.Equal(t, "2026-05-01 09:00:00,user@example.com,sg-1,1.0000,12.50,,80.00,,0.10000000,0.05000000,30", lines[1])
	assert.Equal(t, "2026-05-01 10:00:00,2,20,0.0000,,,,,0.00000000,0.00000000,1", lines[2])
}

func TestExportAggregateAndInvalidate(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.stats.AggregateWindow(ctx, statsdomain.PeriodDaily, day)
	require.NoError(t, err)

	req := reportingdomain.ExportRequest{
		Type: reportingdomain.ExportAggregate, Period: statsdomain.PeriodDaily, From: day, To: day.AddDate(0, 0, 1),
	}
	first, err := f.svc.ExportCsv(ctx, req)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Period,User,Server,TotalDataGB,TotalConnections,AvgCPU%,AvgMem%,AvgNetworkMbps,TotalTokensCost,TotalTokensEarned", lines[0])
	assert.Equal(t, "2026-05-01,user@example.com,sg-1,1.0000,1,12.50,,80.00,0.10000000,0.05000000", lines[1])

	// Cached bytes survive a source change until invalidated.
	require.NoError(t, f.conn.Where("1 = 1").Delete(&statsdomain.Aggregate{}).Error)
	cached, err := f.svc.ExportCsv(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	f.svc.Invalidate()
	fresh, err := f.svc.ExportCsv(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Split(strings.TrimSpace(string(fresh)), "\n")))
}

func TestExportRecomputesIdenticalBytes(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	req := reportingdomain.ExportRequest{From: day, To: day.AddDate(0, 0, 1)}

	first, err := f.svc.ExportCsv(context.Background(), req)
	require.NoError(t, err)
	f.svc.Invalidate()
	second, err := f.svc.ExportCsv(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetHistoricalStatsCaches(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	_, err := f.stats.AggregateWindow(ctx, statsdomain.PeriodDaily, day)
	require.NoError(t, err)

	user := snowflake.ID(1)
	query := reportingdomain.HistoricalQuery{UserID: &user, Period: statsdomain.PeriodDaily, From: day, To: day.AddDate(0, 0, 7)}
	rows, err := f.svc.GetHistoricalStats(ctx, query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, f.svc.Sweep().HistoryEntries)

	_, err = f.svc.GetHistoricalStats(ctx, reportingdomain.HistoricalQuery{Period: "WEEKLY", From: day, To: day.AddDate(0, 0, 1)})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidPeriod)
}

func TestExportValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExportCsv(context.Background(), reportingdomain.ExportRequest{Type: "pdf", From: day, To: day.AddDate(0, 0, 1)})
	assert.ErrorIs(t, err, reportingdomain.ErrInvalidExportType)

	_, err = f.svc.ExportCsv(context.Background(), reportingdomain.ExportRequest{From: day, To: day})
	assert.ErrorIs(t, err, reportingdomain.ErrInvalidRange)
}

func TestFilename(t *testing.T) {
	f := newFixture(t)
	user := snowflake.ID(42)
	name := f.svc.Filename(reportingdomain.ExportRequest{
		Type: reportingdomain.ExportAggregate, From: day, To: day.AddDate(0, 0, 1), UserID: &user,
	})
	assert.Equal(t, "vpn-aggregate-stats-2026-05-01-2026-05-02-user-42.csv", name)
}
