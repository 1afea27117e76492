package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxBackfillWindows bounds one Backfill call.
const maxBackfillWindows = 24 * 366

var ErrInvalidRange = errors.New("invalid_range")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       statsdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loc        *time.Location
	repo       statsdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) statsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("stats.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		loc:        p.Config.Scheduler.Location(),
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) AggregateWindow(ctx context.Context, period statsdomain.Period, windowStart time.Time) (statsdomain.WindowResult, error) {
	if !period.Valid() {
		return statsdomain.WindowResult{}, statsdomain.ErrInvalidPeriod
	}
	start, end := period.Window(windowStart, s.loc)
	result := statsdomain.WindowResult{Period: period, Start: start, End: end}

	now := s.clock.Now().UTC()
	var aggregates []statsdomain.Aggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions, err := s.repo.ListSessions(ctx, tx, statsdomain.SessionFilter{From: start, To: end})
		if err != nil {
			return err
		}
		result.Sessions = len(sessions)
		aggregates = s.rollup(period, start.UTC(), sessions, now)
		return s.repo.UpsertAggregates(ctx, tx, aggregates)
	})
	if err != nil {
		return result, fmt.Errorf("aggregate %s window %s: %w", period, start.Format(time.RFC3339), err)
	}
	result.Groups = len(aggregates)

	s.obsMetrics.RecordAggregatesUpserted(ctx, string(period), len(aggregates))
	s.log.Debug("stats.window.aggregated",
		zap.String("period", string(period)),
		zap.Time("start", start),
		zap.Int("sessions", result.Sessions),
		zap.Int("groups", result.Groups),
	)
	return result, nil
}

func (s *Service) RunPeriod(ctx context.Context, period statsdomain.Period) (statsdomain.WindowResult, error) {
	if !period.Valid() {
		return statsdomain.WindowResult{}, statsdomain.ErrInvalidPeriod
	}
	start, _ := period.PreviousWindow(s.clock.Now(), s.loc)
	return s.AggregateWindow(ctx, period, start)
}

// Backfill aggregates every bucket overlapping [from, to).
func (s *Service) Backfill(ctx context.Context, period statsdomain.Period, from, to time.Time) ([]statsdomain.WindowResult, error) {
	if !period.Valid() {
		return nil, statsdomain.ErrInvalidPeriod
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}

	var results []statsdomain.WindowResult
	for start := period.Truncate(from, s.loc); start.Before(to); start = period.Next(start) {
		if len(results) >= maxBackfillWindows {
			return results, ErrInvalidRange
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.AggregateWindow(ctx, period, start)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	s.log.Info("stats.backfill.finished",
		zap.String("period", string(period)),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("windows", len(results)),
	)
	return results, nil
}

func (s *Service) ListAggregates(ctx context.Context, filter statsdomain.AggregateFilter) ([]statsdomain.Aggregate, error) {
	if !filter.Period.Valid() {
		return nil, statsdomain.ErrInvalidPeriod
	}
	if !filter.From.Before(filter.To) {
		return nil, ErrInvalidRange
	}
	return s.repo.ListAggregates(ctx, s.db, filter)
}

func (s *Service) ListSessions(ctx context.Context, filter statsdomain.SessionFilter) ([]sessiondomain.Session, error) {
	if !filter.From.Before(filter.To) {
		return nil, ErrInvalidRange
	}
	return s.repo.ListSessions(ctx, s.db, filter)
}

type groupKey struct {
	userID   snowflake.ID
	serverID snowflake.ID
}

type accumulator struct {
	aggregate statsdomain.Aggregate
	duration  time.Duration
	cpu       mean
	memory    mean
	speed     mean
	response  mean
	latency   mean
}

// mean averages only the samples that were reported.
type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.count++
}

func (m mean) value() *float64 {
	if m.count == 0 {
		return nil
	}
	v := m.sum / float64(m.count)
	return &v
}

func (s *Service) rollup(period statsdomain.Period, bucketStart time.Time, sessions []sessiondomain.Session, now time.Time) []statsdomain.Aggregate {
	groups := make(map[groupKey]*accumulator)
	for _, session := range sessions {
		key := groupKey{userID: session.UserID, serverID: session.ServerID}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{aggregate: statsdomain.Aggregate{
				UserID:            session.UserID,
				ServerID:          session.ServerID,
				Period:            period,
				BucketStart:       bucketStart,
				TotalTokensCost:   decimal.Zero,
				TotalTokensEarned: decimal.Zero,
				ComputedAt:        now,
			}}
			groups[key] = acc
		}
		acc.aggregate.TotalConnections++
		acc.aggregate.TotalData += session.DataTransferredBytes
		acc.aggregate.TotalTokensCost = acc.aggregate.TotalTokensCost.Add(session.TokensCost)
		acc.aggregate.TotalTokensEarned = acc.aggregate.TotalTokensEarned.Add(session.TokensEarned)
		acc.duration += session.Duration(now)
		acc.cpu.add(session.CPUUsage)
		acc.memory.add(session.MemoryUsage)
		acc.speed.add(session.NetworkSpeed)
		acc.response.add(session.ResponseTimeMs)
		acc.latency.add(session.LatencyMs)
	}

	aggregates := make([]statsdomain.Aggregate, 0, len(groups))
	for _, acc := range groups {
		agg := acc.aggregate
		agg.ID = s.genID.Generate()
		agg.TotalMinutes = int64(acc.duration / time.Minute)
		agg.AvgCPU = acc.cpu.value()
		agg.AvgMemory = acc.memory.value()
		agg.AvgNetworkSpeed = acc.speed.value()
		agg.AvgResponseTime = acc.response.value()
		agg.AvgLatency = acc.latency.value()
		aggregates = append(aggregates, agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].UserID != aggregates[j].UserID {
			return aggregates[i].UserID < aggregates[j].UserID
		}
		return aggregates[i].ServerID < aggregates[j].ServerID
	})
	return aggregates
}
