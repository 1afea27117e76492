package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"gorm.io/gorm"
)

type WindowResult struct {
	Period   Period    `json:"period"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Sessions int       `json:"sessions"`
	Groups   int       `json:"groups"`
}

type AggregateFilter struct {
	UserID   *snowflake.ID
	ServerID *snowflake.ID
	Period   Period
	From     time.Time
	To       time.Time
}

type SessionFilter struct {
	UserID *snowflake.ID
	From   time.Time
	To     time.Time
}

type Repository interface {
	ListSessions(ctx context.Context, db *gorm.DB, filter SessionFilter) ([]sessiondomain.Session, error)
	UpsertAggregates(ctx context.Context, db *gorm.DB, aggregates []Aggregate) error
	ListAggregates(ctx context.Context, db *gorm.DB, filter AggregateFilter) ([]Aggregate, error)
}

type Service interface {
	// AggregateWindow recomputes the bucket starting at windowStart.
	AggregateWindow(ctx context.Context, period Period, windowStart time.Time) (WindowResult, error)
	// RunPeriod aggregates the last completed bucket of period.
	RunPeriod(ctx context.Context, period Period) (WindowResult, error)
	Backfill(ctx context.Context, period Period, from, to time.Time) ([]WindowResult, error)

	ListAggregates(ctx context.Context, filter AggregateFilter) ([]Aggregate, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]sessiondomain.Session, error)
	Location() *time.Location
}
