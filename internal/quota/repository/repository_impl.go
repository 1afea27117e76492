package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/config"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() quotadomain.Repository {
	return &repo{}
}

func (r *repo) InsertUsageRecord(ctx context.Context, conn *gorm.DB, record *quotadomain.UsageRecord) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_key"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) AddUsedBytes(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, bytes int64) error {
	return conn.WithContext(ctx).
		Model(&accountdomain.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]any{
			"bandwidth_used_bytes": gorm.Expr("bandwidth_used_bytes + ?", bytes),
			"updated_at":           time.Now().UTC(),
		}).Error
}

// ListUnrecordedSessions returns ended sessions with no usage record yet.
func (r *repo) ListUnrecordedSessions(ctx context.Context, conn *gorm.DB, limit int) ([]sessiondomain.Session, error) {
	var sessions []sessiondomain.Session
	err := conn.WithContext(ctx).
		Model(&sessiondomain.Session{}).
		Select("sessions.*").
		Joins("LEFT JOIN quota_usage_records r ON r.session_id = sessions.id").
		Where("sessions.ended_at IS NOT NULL AND r.source_key IS NULL").
		Order("sessions.ended_at ASC").
		Order("sessions.id ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) FindSubscription(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*accountdomain.Subscription, error) {
	query := conn.WithContext(ctx).Where("id = ?", id)
	if forUpdate {
		query = db.ForUpdate(query)
	}
	var sub accountdomain.Subscription
	err := query.First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) UpdateSubscription(ctx context.Context, conn *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return conn.WithContext(ctx).
		Model(&accountdomain.Subscription{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ResetUsage zeroes usage only while the reset date is due, so concurrent
// resets of the same period apply once.
func (r *repo) ResetUsage(ctx context.Context, conn *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&accountdomain.Subscription{}).
		Where("id = ? AND (bandwidth_reset_date IS NULL OR bandwidth_reset_date <= ?)", id, now).
		Updates(map[string]any{
			"bandwidth_used_bytes": 0,
			"bandwidth_reset_date": next,
			"updated_at":           now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListDueResets(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).
		Model(&accountdomain.Subscription{}).
		Where("bandwidth_reset_date IS NOT NULL AND bandwidth_reset_date <= ?", now).
		Where("status IN ?", []accountdomain.SubscriptionStatus{
			accountdomain.SubscriptionStatusActive,
			accountdomain.SubscriptionStatusTrialing,
		}).
		Order("bandwidth_reset_date ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) InsertAddon(ctx context.Context, conn *gorm.DB, addon *quotadomain.QuotaAddon) error {
	return conn.WithContext(ctx).Create(addon).Error
}

func (r *repo) FindAddon(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*quotadomain.QuotaAddon, error) {
	var addon quotadomain.QuotaAddon
	err := conn.WithContext(ctx).Where("id = ?", id).First(&addon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addon, nil
}

func (r *repo) FindAddonByToken(ctx context.Context, conn *gorm.DB, token string) (*quotadomain.QuotaAddon, error) {
	var addon quotadomain.QuotaAddon
	err := conn.WithContext(ctx).Where("purchase_token = ?", token).First(&addon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addon, nil
}

// MarkAddonApplied flips applied false to true. It reports false when the
// addon was already applied.
func (r *repo) MarkAddonApplied(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time, previousQuota *int64) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&quotadomain.QuotaAddon{}).
		Where("id = ? AND applied = ?", id, false).
		Updates(map[string]any{
			"applied":              true,
			"applied_at":           at,
			"previous_quota_bytes": previousQuota,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeactivateAddon(ctx context.Context, conn *gorm.DB, id snowflake.ID) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&quotadomain.QuotaAddon{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindActiveUnlimitedAddon(ctx context.Context, conn *gorm.DB, subscriptionID, excludeID snowflake.ID) (*quotadomain.QuotaAddon, error) {
	var addon quotadomain.QuotaAddon
	err := conn.WithContext(ctx).
		Where("subscription_id = ? AND id <> ?", subscriptionID, excludeID).
		Where("active = ? AND applied = ? AND bandwidth_bytes = ?", true, true, config.UnlimitedBandwidth).
		Order("applied_at ASC").
		First(&addon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addon, nil
}

func (r *repo) SetPreviousQuota(ctx context.Context, conn *gorm.DB, id snowflake.ID, previousQuota *int64) error {
	return conn.WithContext(ctx).
		Model(&quotadomain.QuotaAddon{}).
		Where("id = ?", id).
		Update("previous_quota_bytes", previousQuota).Error
}

func (r *repo) ListExpiredAddons(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]quotadomain.QuotaAddon, error) {
	var addons []quotadomain.QuotaAddon
	err := conn.WithContext(ctx).
		Where("active = ? AND expiry_date IS NOT NULL AND expiry_date < ?", true, now).
		Order("expiry_date ASC").
		Order("id ASC").
		Limit(limit).
		Find(&addons).Error
	return addons, err
}

func (r *repo) InsertGrant(ctx context.Context, conn *gorm.DB, grant *quotadomain.ExtraLoginGrant) error {
	return conn.WithContext(ctx).Create(grant).Error
}

func (r *repo) FindGrant(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*quotadomain.ExtraLoginGrant, error) {
	var grant quotadomain.ExtraLoginGrant
	err := conn.WithContext(ctx).Where("id = ?", id).First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repo) MarkGrantApplied(ctx context.Context, conn *gorm.DB, id snowflake.ID) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&quotadomain.ExtraLoginGrant{}).
		Where("id = ? AND applied = ?", id, false).
		Update("applied", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeactivateGrant(ctx context.Context, conn *gorm.DB, id snowflake.ID) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&quotadomain.ExtraLoginGrant{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListExpiredGrants(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]quotadomain.ExtraLoginGrant, error) {
	var grants []quotadomain.ExtraLoginGrant
	err := conn.WithContext(ctx).
		Where("active = ? AND expiry_date IS NOT NULL AND expiry_date < ?", true, now).
		Order("expiry_date ASC").
		Order("id ASC").
		Limit(limit).
		Find(&grants).Error
	return grants, err
}
