package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/clock"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	"github.com/smallbiznis/vpnledger/internal/ratelimit"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	"github.com/smallbiznis/vpnledger/internal/retention"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TaskSessionRefresh     = "session_refresh"
	TaskStatsHourly        = "stats_hourly"
	TaskStatsDaily         = "stats_daily"
	TaskStatsMonthly       = "stats_monthly"
	TaskReportCacheSweep   = "report_cache_sweep"
	TaskSessionRetention   = "session_retention"
	TaskAddonExpiry        = "addon_expiry"
	TaskExtraLoginExpiry   = "extra_login_expiry"
	TaskQuotaReset         = "quota_reset"
	TaskSettlementRecovery = "settlement_recovery"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config
	Locker    *ratelimit.Locker `optional:"true"`
	Sessions  sessiondomain.Service
	Stats     statsdomain.Service
	Reporting reportingdomain.Service
	Retention *retention.Service
	Quota     quotadomain.Service
	Tokens    tokendomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidTask
	}
	var locker Locker
	if p.Locker != nil {
		locker = p.Locker
	}
	s := newScheduler(p.Log, p.Config, p.GenID, p.Clock, locker)
	for _, task := range defaultTasks(p) {
		if err := s.Register(task); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func defaultTasks(p Params) []Task {
	return []Task{
		{
			Name:     TaskSessionRefresh,
			Schedule: "@every 60s",
			Timeout:  55 * time.Second,
			Lock:     true,
			Resource: "sessions",
			Run: func(ctx context.Context, _ int) (int, error) {
				result, err := p.Sessions.RefreshActiveSessions(ctx)
				return result.Refreshed, err
			},
		},
		aggregationTask(TaskStatsHourly, "5 * * * *", statsdomain.PeriodHourly, p),
		aggregationTask(TaskStatsDaily, "15 0 * * *", statsdomain.PeriodDaily, p),
		aggregationTask(TaskStatsMonthly, "30 0 1 * *", statsdomain.PeriodMonthly, p),
		{
			Name:     TaskReportCacheSweep,
			Schedule: "*/5 * * * *",
			Resource: "report_cache",
			Run: func(ctx context.Context, _ int) (int, error) {
				stats := p.Reporting.Sweep()
				p.Log.Debug("scheduler.report_cache.swept",
					zap.Int("history_entries", stats.HistoryEntries),
					zap.Int("export_entries", stats.ExportEntries),
				)
				return 0, nil
			},
		},
		{
			Name:     TaskSessionRetention,
			Schedule: "0 3 * * *",
			Timeout:  30 * time.Minute,
			Lock:     true,
			Resource: "sessions",
			Run: func(ctx context.Context, _ int) (int, error) {
				deleted, err := p.Retention.PurgeEndedSessions(ctx)
				return int(deleted), err
			},
		},
		{
			Name:     TaskAddonExpiry,
			Schedule: "0 * * * *",
			Lock:     true,
			Resource: "quota_addons",
			Run: func(ctx context.Context, _ int) (int, error) {
				return p.Retention.ExpireAddons(ctx)
			},
		},
		{
			Name:     TaskExtraLoginExpiry,
			Schedule: "2 * * * *",
			Lock:     true,
			Resource: "extra_login_grants",
			Run: func(ctx context.Context, _ int) (int, error) {
				return p.Retention.ExpireExtraLogins(ctx)
			},
		},
		{
			Name:     TaskQuotaReset,
			Schedule: "10 * * * *",
			Lock:     true,
			Resource: "subscriptions",
			Run: func(ctx context.Context, batchSize int) (int, error) {
				return p.Quota.ResetDueSubscriptions(ctx, batchSize)
			},
		},
		{
			Name:     TaskSettlementRecovery,
			Schedule: "*/5 * * * *",
			Lock:     true,
			Resource: "sessions",
			Run: func(ctx context.Context, batchSize int) (int, error) {
				settled, settleErr := p.Tokens.SettleUnsettled(ctx, batchSize)
				recorded, usageErr := p.Quota.RecordPendingSessionUsage(ctx, batchSize)
				return settled + recorded, errors.Join(settleErr, usageErr)
			},
		},
	}
}

// aggregationTask recomputes the last completed bucket and drops cached
// views so reads pick up the new rows.
func aggregationTask(name, schedule string, period statsdomain.Period, p Params) Task {
	return Task{
		Name:     name,
		Schedule: schedule,
		Lock:     true,
		Resource: "usage_aggregates",
		Run: func(ctx context.Context, _ int) (int, error) {
			result, err := p.Stats.RunPeriod(ctx, period)
			if err != nil {
				return 0, err
			}
			p.Reporting.Invalidate()
			return result.Groups, nil
		},
	}
}
