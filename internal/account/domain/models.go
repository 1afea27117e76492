// Package domain contains the read models for users, servers and
// subscriptions. The tables are owned by account management; this service
// only mutates the quota columns on subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

type User struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Email         string       `gorm:"type:text;not null"`
	DisplayName   string       `gorm:"type:text"`
	WalletAddress *string      `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// Server is an edge VPN node. OperatorUserID receives session rewards.
type Server struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	Name           string          `gorm:"type:text;not null"`
	Region         string          `gorm:"type:text"`
	OperatorUserID snowflake.ID    `gorm:"not null;index"`
	MetricsURL     string          `gorm:"type:text"`
	MiningRate     decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0"`
	Active         bool            `gorm:"not null;default:true"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Server) TableName() string { return "servers" }

// Subscription carries the quota counters. A NULL BandwidthQuotaBytes is an
// unlimited quota.
type Subscription struct {
	ID                  snowflake.ID       `gorm:"primaryKey"`
	UserID              snowflake.ID       `gorm:"not null;index"`
	Status              SubscriptionStatus `gorm:"type:text;not null"`
	StartDate           time.Time          `gorm:"not null"`
	EndDate             *time.Time
	BandwidthQuotaBytes *int64
	BandwidthUsedBytes  int64      `gorm:"not null;default:0"`
	BandwidthAddonBytes int64      `gorm:"not null;default:0"`
	BandwidthResetDate  *time.Time `gorm:"index"`
	MultiLoginCount     int64      `gorm:"not null;default:1"`
	CreatedAt           time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

// IsCurrent reports whether the subscription is in an active status and not
// past its end date at now.
func (s Subscription) IsCurrent(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	return s.EndDate == nil || !s.EndDate.Before(now)
}
