package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() metricsdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *metricsdomain.Snapshot) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}},
		UpdateAll: true,
	}).Create(snapshot).Error
}

func (r *repo) UpsertPeerCounters(ctx context.Context, db *gorm.DB, counters []metricsdomain.PeerCounter) error {
	if len(counters) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"upload_bytes", "download_bytes", "observed_at"}),
	}).Create(&counters).Error
}

func (r *repo) FindSnapshot(ctx context.Context, db *gorm.DB, serverID snowflake.ID) (*metricsdomain.Snapshot, error) {
	var snapshot metricsdomain.Snapshot
	err := db.WithContext(ctx).Where("server_id = ?", serverID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repo) FindPeerCounter(ctx context.Context, db *gorm.DB, serverID, userID snowflake.ID) (*metricsdomain.PeerCounter, error) {
	var counter metricsdomain.PeerCounter
	err := db.WithContext(ctx).
		Where("server_id = ? AND user_id = ?", serverID, userID).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *repo) ListPeerCounters(ctx context.Context, db *gorm.DB, serverID snowflake.ID) ([]metricsdomain.PeerCounter, error) {
	var counters []metricsdomain.PeerCounter
	err := db.WithContext(ctx).Where("server_id = ?", serverID).Find(&counters).Error
	return counters, err
}
