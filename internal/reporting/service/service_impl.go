package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/cache"
	"github.com/smallbiznis/vpnledger/internal/config"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultHistoryTTL = 15 * time.Minute
	defaultExportTTL  = 5 * time.Minute
)

type (
	HistoryCache = cache.Cache[reportingdomain.HistoryKey, []statsdomain.Aggregate]
	ExportCache  = cache.Cache[reportingdomain.ExportKey, []byte]
)

func NewHistoryCache(cfg config.Config) HistoryCache {
	ttl := cfg.Cache.HistoryTTL
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return cache.NewLRU[reportingdomain.HistoryKey, []statsdomain.Aggregate](cfg.Cache.HistoryMaxEntries, ttl)
}

func NewExportCache(cfg config.Config) ExportCache {
	ttl := cfg.Cache.ExportTTL
	if ttl <= 0 {
		ttl = defaultExportTTL
	}
	return cache.NewLRU[reportingdomain.ExportKey, []byte](cfg.Cache.ExportMaxEntries, ttl)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Stats     statsdomain.Service
	Directory accountdomain.Directory
	History   HistoryCache
	Exports   ExportCache
}

type Service struct {
	log       *zap.Logger
	stats     statsdomain.Service
	directory accountdomain.Directory
	history   HistoryCache
	exports   ExportCache
}

func NewService(p Params) reportingdomain.Service {
	return &Service{
		log:       p.Log.Named("reporting.service"),
		stats:     p.Stats,
		directory: p.Directory,
		history:   p.History,
		exports:   p.Exports,
	}
}

func (s *Service) GetHistoricalStats(ctx context.Context, query reportingdomain.HistoricalQuery) ([]statsdomain.Aggregate, error) {
	if !query.Period.Valid() {
		return nil, statsdomain.ErrInvalidPeriod
	}
	if !query.From.Before(query.To) {
		return nil, reportingdomain.ErrInvalidRange
	}

	key := historyKey(query)
	if rows, ok := s.history.Get(key); ok {
		return rows, nil
	}
	rows, err := s.stats.ListAggregates(ctx, statsdomain.AggregateFilter{
		UserID:   query.UserID,
		ServerID: query.ServerID,
		Period:   query.Period,
		From:     query.From,
		To:       query.To,
	})
	if err != nil {
		return nil, err
	}
	s.history.Set(key, rows)
	return rows, nil
}

func (s *Service) ExportCsv(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, error) {
	req, err := normalizeExport(req)
	if err != nil {
		return nil, err
	}

	key := exportKey(req)
	if payload, ok := s.exports.Get(key); ok {
		return payload, nil
	}

	var payload []byte
	switch req.Type {
	case reportingdomain.ExportDetailed:
		payload, err = s.exportDetailed(ctx, req)
	case reportingdomain.ExportAggregate:
		payload, err = s.exportAggregate(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	s.exports.Set(key, payload)
	s.log.Debug("reporting.export.generated",
		zap.String("type", string(req.Type)),
		zap.Int("bytes", len(payload)),
	)
	return payload, nil
}

func (s *Service) Filename(req reportingdomain.ExportRequest) string {
	req, _ = normalizeExport(req)
	loc := s.stats.Location()
	name := fmt.Sprintf("vpn %s stats %s %s",
		req.Type,
		req.From.In(loc).Format("2006-01-02"),
		req.To.In(loc).Format("2006-01-02"),
	)
	if req.UserID != nil {
		name += " user " + req.UserID.String()
	}
	return slug.Make(name) + ".csv"
}

func (s *Service) Invalidate() {
	s.history.Purge()
	s.exports.Purge()
}

func (s *Service) Sweep() reportingdomain.CacheStats {
	return reportingdomain.CacheStats{
		HistoryEntries: s.history.Sweep(),
		ExportEntries:  s.exports.Sweep(),
	}
}

func normalizeExport(req reportingdomain.ExportRequest) (reportingdomain.ExportRequest, error) {
	if req.Type == "" {
		req.Type = reportingdomain.ExportDetailed
	}
	switch req.Type {
	case reportingdomain.ExportDetailed:
		req.Period = ""
	case reportingdomain.ExportAggregate:
		if req.Period == "" {
			req.Period = statsdomain.PeriodDaily
		}
		if !req.Period.Valid() {
			return req, statsdomain.ErrInvalidPeriod
		}
	default:
		return req, reportingdomain.ErrInvalidExportType
	}
	if !req.From.Before(req.To) {
		return req, reportingdomain.ErrInvalidRange
	}
	return req, nil
}

func historyKey(query reportingdomain.HistoricalQuery) reportingdomain.HistoryKey {
	key := reportingdomain.HistoryKey{
		Scope:  "all",
		Period: query.Period,
		From:   query.From.UnixNano(),
		To:     query.To.UnixNano(),
	}
	switch {
	case query.UserID != nil && query.ServerID != nil:
		key.Scope = "user_server:" + query.ServerID.String()
		key.ID = *query.UserID
	case query.UserID != nil:
		key.Scope = "user"
		key.ID = *query.UserID
	case query.ServerID != nil:
		key.Scope = "server"
		key.ID = *query.ServerID
	}
	return key
}

func exportKey(req reportingdomain.ExportRequest) reportingdomain.ExportKey {
	key := reportingdomain.ExportKey{
		Type:   req.Type,
		Period: req.Period,
		From:   req.From.UnixNano(),
		To:     req.To.UnixNano(),
	}
	if req.UserID != nil {
		key.UserID = *req.UserID
	}
	return key
}
