package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type QuotaAddon struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID    `gorm:"not null;index" json:"user_id"`
	SubscriptionID snowflake.ID    `gorm:"not null;index" json:"subscription_id"`
	ProductID      string          `gorm:"type:text;not null" json:"product_id"`
	BandwidthBytes int64           `gorm:"not null" json:"bandwidth_bytes"`
	Price          decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"price"`
	PurchaseToken  string          `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Applied        bool            `gorm:"not null;default:false" json:"applied"`
	AppliedAt      *time.Time      `json:"applied_at,omitempty"`
	// PreviousQuotaBytes is the subscription quota replaced by an unlimited
	// addon, restored when the addon expires.
	PreviousQuotaBytes *int64            `json:"-"`
	ExpiryDate         *time.Time        `gorm:"index" json:"expiry_date,omitempty"`
	Active             bool              `gorm:"not null;default:true" json:"active"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (QuotaAddon) TableName() string { return "quota_addons" }

func (a QuotaAddon) Effect() AddonEffect { return EffectOf(a.BandwidthBytes) }

type ExtraLoginGrant struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"not null;index" json:"user_id"`
	SubscriptionID snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	ExtraLogins    int64        `gorm:"not null" json:"extra_logins"`
	Source         string       `gorm:"type:text;not null" json:"source"`
	ExpiryDate     *time.Time   `gorm:"index" json:"expiry_date,omitempty"`
	Applied        bool         `gorm:"not null;default:false" json:"applied"`
	Active         bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ExtraLoginGrant) TableName() string { return "extra_login_grants" }

// UsageRecord marks a usage source as applied to a subscription.
type UsageRecord struct {
	SourceKey      string        `gorm:"primaryKey;type:text"`
	SessionID      *snowflake.ID `gorm:"index"`
	UserID         snowflake.ID  `gorm:"not null"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	Bytes          int64         `gorm:"not null"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageRecord) TableName() string { return "quota_usage_records" }
