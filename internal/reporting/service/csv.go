package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/pricing"
)

var (
	detailedHeader = []string{
		"Date", "User", "Server", "DataGB", "CPU%", "Mem%", "NetworkMbps",
		"ResponseTimeMs", "TokensCost", "TokensEarned", "DurationMinutes",
	}
	aggregateHeader = []string{
		"Period", "User", "Server", "TotalDataGB", "TotalConnections", "AvgCPU%",
		"AvgMem%", "AvgNetworkMbps", "TotalTokensCost", "TotalTokensEarned",
	}
)

const (
	gbPlaces     = 4
	metricPlaces = 2
)

var bytesPerGB = decimal.NewFromInt(1 << 30)

func (s *Service) exportDetailed(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, error) {
	sessions, err := s.stats.ListSessions(ctx, statsdomain.SessionFilter{
		UserID: req.UserID,
		From:   req.From,
		To:     req.To,
	})
	if err != nil {
		return nil, err
	}

	loc := s.stats.Location()
	names := newNameResolver(s)
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		user, err := names.user(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		server, err := names.server(ctx, session.ServerID)
		if err != nil {
			return nil, err
		}
		minutes := int64(0)
		if session.EndedAt != nil {
			minutes = pricing.WholeMinutes(session.Duration(*session.EndedAt))
		}
		rows = append(rows, []string{
			session.StartedAt.In(loc).Format("2006-01-02 15:04:05"),
			user,
			server,
			formatGB(session.DataTransferredBytes),
			formatMetric(session.CPUUsage),
			formatMetric(session.MemoryUsage),
			formatMetric(session.NetworkSpeed),
			formatMetric(session.ResponseTimeMs),
			session.TokensCost.StringFixed(pricing.Places),
			session.TokensEarned.StringFixed(pricing.Places),
			strconv.FormatInt(minutes, 10),
		})
	}
	return writeCSV(detailedHeader, rows)
}

func (s *Service) exportAggregate(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, error) {
	aggregates, err := s.stats.ListAggregates(ctx, statsdomain.AggregateFilter{
		UserID: req.UserID,
		Period: req.Period,
		From:   req.From,
		To:     req.To,
	})
	if err != nil {
		return nil, err
	}

	loc := s.stats.Location()
	names := newNameResolver(s)
	rows := make([][]string, 0, len(aggregates))
	for _, agg := range aggregates {
		user, err := names.user(ctx, agg.UserID)
		if err != nil {
			return nil, err
		}
		server, err := names.server(ctx, agg.ServerID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			bucketLabel(agg.Period, agg.BucketStart.In(loc)),
			user,
			server,
			formatGB(agg.TotalData),
			strconv.FormatInt(agg.TotalConnections, 10),
			formatMetric(agg.AvgCPU),
			formatMetric(agg.AvgMemory),
			formatMetric(agg.AvgNetworkSpeed),
			agg.TotalTokensCost.StringFixed(pricing.Places),
			agg.TotalTokensEarned.StringFixed(pricing.Places),
		})
	}
	return writeCSV(aggregateHeader, rows)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bucketLabel(period statsdomain.Period, start time.Time) string {
	switch period {
	case statsdomain.PeriodHourly:
		return start.Format("2006-01-02 15:00")
	case statsdomain.PeriodMonthly:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

func formatGB(n int64) string {
	return decimal.NewFromInt(n).DivRound(bytesPerGB, gbPlaces).StringFixed(gbPlaces)
}

// formatMetric leaves unreported metrics blank.
func formatMetric(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', metricPlaces, 64)
}

// nameResolver memoizes directory lookups for one export. Rows whose user or
// server no longer exists fall back to the raw id.
type nameResolver struct {
	svc     *Service
	users   map[snowflake.ID]string
	servers map[snowflake.ID]string
}

func newNameResolver(s *Service) *nameResolver {
	return &nameResolver{
		svc:     s,
		users:   make(map[snowflake.ID]string),
		servers: make(map[snowflake.ID]string),
	}
}

func (r *nameResolver) user(ctx context.Context, id snowflake.ID) (string, error) {
	if name, ok := r.users[id]; ok {
		return name, nil
	}
	name := id.String()
	user, err := r.svc.directory.GetUser(ctx, id)
	switch {
	case errors.Is(err, domainerr.ErrNotFound):
	case err != nil:
		return "", err
	case user != nil && user.Email != "":
		name = user.Email
	}
	r.users[id] = name
	return name, nil
}

func (r *nameResolver) server(ctx context.Context, id snowflake.ID) (string, error) {
	if name, ok := r.servers[id]; ok {
		return name, nil
	}
	name := id.String()
	server, err := r.svc.directory.GetServer(ctx, id)
	switch {
	case errors.Is(err, domainerr.ErrNotFound):
	case err != nil:
		return "", err
	case server != nil && server.Name != "":
		name = server.Name
	}
	r.servers[id] = name
	return name, nil
}
