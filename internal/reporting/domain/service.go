// Package domain defines the read-side contracts for historical stats and
// CSV exports.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
)

type ExportType string

const (
	ExportDetailed  ExportType = "detailed"
	ExportAggregate ExportType = "aggregate"
)

var (
	ErrInvalidExportType = errors.New("invalid_export_type")
	ErrInvalidRange      = errors.New("invalid_range")
)

type HistoricalQuery struct {
	UserID   *snowflake.ID
	ServerID *snowflake.ID
	Period   statsdomain.Period
	From     time.Time
	To       time.Time
}

type ExportRequest struct {
	Type   ExportType
	Period statsdomain.Period
	From   time.Time
	To     time.Time
	UserID *snowflake.ID
}

// HistoryKey identifies one cached series.
type HistoryKey struct {
	Scope  string
	ID     snowflake.ID
	Period statsdomain.Period
	From   int64
	To     int64
}

// ExportKey identifies one cached CSV payload.
type ExportKey struct {
	Type   ExportType
	Period statsdomain.Period
	From   int64
	To     int64
	UserID snowflake.ID
}

type CacheStats struct {
	HistoryEntries int `json:"history_entries"`
	ExportEntries  int `json:"export_entries"`
}

type Service interface {
	GetHistoricalStats(ctx context.Context, query HistoricalQuery) ([]statsdomain.Aggregate, error)
	ExportCsv(ctx context.Context, req ExportRequest) ([]byte, error)
	Filename(req ExportRequest) string
	// Invalidate drops every cached entry.
	Invalidate()
	// Sweep drops expired entries.
	Sweep() CacheStats
}
