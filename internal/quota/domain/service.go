package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidUsage         = errors.New("invalid_usage")
	ErrInvalidSourceKey     = errors.New("invalid_source_key")
	ErrInvalidPurchaseToken = errors.New("invalid_purchase_token")
	ErrInvalidGrant         = errors.New("invalid_extra_login_grant")
)

// SessionSourceKey is the usage idempotency key of a closed session.
func SessionSourceKey(id snowflake.ID) string {
	return fmt.Sprintf("session:%d", id)
}

type RecordUsageRequest struct {
	UserID        snowflake.ID
	SessionID     *snowflake.ID
	BytesSent     int64
	BytesReceived int64
	SourceKey     string
}

type PurchaseRequest struct {
	UserID        snowflake.ID        `json:"user_id"`
	ProductID     string              `json:"product_id"`
	PurchaseToken string              `json:"purchase_token"`
	Price         decimal.NullDecimal `json:"price"`
	Metadata      datatypes.JSONMap   `json:"metadata,omitempty"`
}

type GrantRequest struct {
	UserID      snowflake.ID `json:"user_id"`
	ExtraLogins int64        `json:"extra_logins"`
	Source      string       `json:"source"`
	ExpiryDate  *time.Time   `json:"expiry_date,omitempty"`
}

type Status struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	Unlimited      bool         `json:"unlimited"`
	QuotaBytes     *int64       `json:"quota_bytes"`
	AddonBytes     int64        `json:"addon_bytes"`
	UsedBytes      int64        `json:"used_bytes"`
	RemainingBytes *int64       `json:"remaining_bytes"`
	PercentUsed    float64      `json:"percent_used"`
	ResetDate      *time.Time   `json:"reset_date,omitempty"`
	DeviceLimit    int64        `json:"device_limit"`
}

type Repository interface {
	InsertUsageRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	AddUsedBytes(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, bytes int64) error
	ListUnrecordedSessions(ctx context.Context, db *gorm.DB, limit int) ([]sessiondomain.Session, error)

	FindSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*accountdomain.Subscription, error)
	UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	ResetUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error)
	ListDueResets(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)

	InsertAddon(ctx context.Context, db *gorm.DB, addon *QuotaAddon) error
	FindAddon(ctx context.Context, db *gorm.DB, id snowflake.ID) (*QuotaAddon, error)
	FindAddonByToken(ctx context.Context, db *gorm.DB, token string) (*QuotaAddon, error)
	MarkAddonApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, previousQuota *int64) (bool, error)
	DeactivateAddon(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	FindActiveUnlimitedAddon(ctx context.Context, db *gorm.DB, subscriptionID, excludeID snowflake.ID) (*QuotaAddon, error)
	SetPreviousQuota(ctx context.Context, db *gorm.DB, id snowflake.ID, previousQuota *int64) error
	ListExpiredAddons(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]QuotaAddon, error)

	InsertGrant(ctx context.Context, db *gorm.DB, grant *ExtraLoginGrant) error
	FindGrant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ExtraLoginGrant, error)
	MarkGrantApplied(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	DeactivateGrant(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ListExpiredGrants(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]ExtraLoginGrant, error)
}

type Service interface {
	ValidateBandwidth(ctx context.Context, userID snowflake.ID) error
	ValidateDeviceLimit(ctx context.Context, userID snowflake.ID) error
	ValidateSubscription(ctx context.Context, userID snowflake.ID) error

	// RecordUsage reports false when the source key was already applied.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (bool, error)
	RecordPendingSessionUsage(ctx context.Context, limit int) (int, error)

	// ProcessAddonPurchase returns the existing addon together with a
	// *domainerr.DuplicatePurchaseError for a replayed token.
	ProcessAddonPurchase(ctx context.Context, req PurchaseRequest) (*QuotaAddon, error)
	ApplyAddon(ctx context.Context, addonID snowflake.ID) (*QuotaAddon, error)
	ExpireAddon(ctx context.Context, addonID snowflake.ID) (bool, error)
	ListExpiredAddons(ctx context.Context, limit int) ([]QuotaAddon, error)

	GrantExtraLogins(ctx context.Context, req GrantRequest) (*ExtraLoginGrant, error)
	ExpireGrant(ctx context.Context, grantID snowflake.ID) (bool, error)
	ListExpiredGrants(ctx context.Context, limit int) ([]ExtraLoginGrant, error)

	ResetMonthlyUsage(ctx context.Context, subscriptionID snowflake.ID) error
	ResetDueSubscriptions(ctx context.Context, limit int) (int, error)

	QuotaStatus(ctx context.Context, userID snowflake.ID) (Status, error)
}
