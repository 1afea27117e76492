package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Aggregate rolls up the sessions of one (user, server) pair that started
// inside one bucket. Nil averages mean no session had the metric.
type Aggregate struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID            snowflake.ID    `gorm:"not null;uniqueIndex:ux_usage_aggregates_key,priority:1" json:"user_id"`
	ServerID          snowflake.ID    `gorm:"not null;uniqueIndex:ux_usage_aggregates_key,priority:2" json:"server_id"`
	Period            Period          `gorm:"type:text;not null;uniqueIndex:ux_usage_aggregates_key,priority:3" json:"period"`
	BucketStart       time.Time       `gorm:"not null;uniqueIndex:ux_usage_aggregates_key,priority:4;index" json:"bucket_start"`
	TotalData         int64           `gorm:"not null;default:0" json:"total_data"`
	TotalConnections  int64           `gorm:"not null;default:0" json:"total_connections"`
	TotalMinutes      int64           `gorm:"not null;default:0" json:"total_minutes"`
	AvgCPU            *float64        `json:"avg_cpu"`
	AvgMemory         *float64        `json:"avg_memory"`
	AvgNetworkSpeed   *float64        `json:"avg_network_speed"`
	AvgResponseTime   *float64        `json:"avg_response_time"`
	AvgLatency        *float64        `json:"avg_latency"`
	TotalTokensCost   decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"total_tokens_cost"`
	TotalTokensEarned decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"total_tokens_earned"`
	ComputedAt        time.Time       `gorm:"not null" json:"computed_at"`
}

func (Aggregate) TableName() string { return "usage_aggregates" }
