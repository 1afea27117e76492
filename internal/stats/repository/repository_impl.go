package repository

import (
	"context"

	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() statsdomain.Repository {
	return &repo{}
}

// ListSessions returns sessions whose start falls in [From, To).
func (r *repo) ListSessions(ctx context.Context, db *gorm.DB, filter statsdomain.SessionFilter) ([]sessiondomain.Session, error) {
	query := db.WithContext(ctx).
		Where("started_at >= ? AND started_at < ?", filter.From.UTC(), filter.To.UTC())
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	var sessions []sessiondomain.Session
	err := query.
		Order("started_at ASC").
		Order("id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) UpsertAggregates(ctx context.Context, db *gorm.DB, aggregates []statsdomain.Aggregate) error {
	if len(aggregates) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "server_id"},
				{Name: "period"},
				{Name: "bucket_start"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_data",
				"total_connections",
				"total_minutes",
				"avg_cpu",
				"avg_memory",
				"avg_network_speed",
				"avg_response_time",
				"avg_latency",
				"total_tokens_cost",
				"total_tokens_earned",
				"computed_at",
			}),
		}).
		CreateInBatches(aggregates, 200).Error
}

func (r *repo) ListAggregates(ctx context.Context, db *gorm.DB, filter statsdomain.AggregateFilter) ([]statsdomain.Aggregate, error) {
	query := db.WithContext(ctx).
		Where("period = ? AND bucket_start >= ? AND bucket_start < ?", filter.Period, filter.From.UTC(), filter.To.UTC())
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ServerID != nil {
		query = query.Where("server_id = ?", *filter.ServerID)
	}
	var aggregates []statsdomain.Aggregate
	err := query.
		Order("bucket_start ASC").
		Order("user_id ASC").
		Order("server_id ASC").
		Find(&aggregates).Error
	return aggregates, err
}
