package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() tokendomain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *tokendomain.LedgerEntry) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&tokendomain.TokenBalance{
			UserID:    userID,
			Balance:   decimal.Zero,
			UpdatedAt: now,
		}).Error
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*tokendomain.TokenBalance, error) {
	var balance tokendomain.TokenBalance
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// UpdateBalance writes the new balance only if version is unchanged.
func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, version int64, balance decimal.Decimal, now time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&tokendomain.TokenBalance{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]any{
			"balance":    balance,
			"version":    version + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]tokendomain.LedgerEntry, error) {
	var entries []tokendomain.LedgerEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkSessionSettled records the amounts on an ended, unsettled session.
func (r *repo) MarkSessionSettled(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, cost, reward decimal.Decimal, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&sessiondomain.Session{}).
		Where("id = ? AND ended_at IS NOT NULL AND settled_at IS NULL", sessionID).
		Updates(map[string]any{
			"tokens_cost":   cost,
			"tokens_earned": reward,
			"settled_at":    at,
			"updated_at":    at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListUnsettledSessions(ctx context.Context, db *gorm.DB, limit int) ([]sessiondomain.Session, error) {
	var sessions []sessiondomain.Session
	err := db.WithContext(ctx).
		Where("ended_at IS NOT NULL AND settled_at IS NULL").
		Order("ended_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) FindMiningState(ctx context.Context, db *gorm.DB, userID, serverID snowflake.ID) (*tokendomain.MiningState, error) {
	var state tokendomain.MiningState
	err := db.WithContext(ctx).
		Where("user_id = ? AND server_id = ?", userID, serverID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repo) SaveMiningState(ctx context.Context, db *gorm.DB, state *tokendomain.MiningState) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_claimed_at"}),
		}).
		Create(state).Error
}

func (r *repo) InsertWithdrawal(ctx context.Context, db *gorm.DB, w *tokendomain.Withdrawal) error {
	return db.WithContext(ctx).Create(w).Error
}

func (r *repo) UpdateWithdrawal(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&tokendomain.Withdrawal{}).
		Where("id = ?", id).
		Updates(fields).Error
}
