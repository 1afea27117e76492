// Package domain contains the session model and its lifecycle contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Session is one continuous connection from a user to a server. A nil
// EndedAt marks it active; ENDED is terminal.
type Session struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID               snowflake.ID    `gorm:"not null;index:idx_sessions_user_server,priority:1" json:"user_id"`
	ServerID             snowflake.ID    `gorm:"not null;index:idx_sessions_user_server,priority:2" json:"server_id"`
	ExternalSessionID    *string         `gorm:"type:text;uniqueIndex" json:"session_id,omitempty"`
	StartedAt            time.Time       `gorm:"not null;index" json:"started_at"`
	EndedAt              *time.Time      `gorm:"index" json:"ended_at,omitempty"`
	DataTransferredBytes int64           `gorm:"not null;default:0" json:"data_transferred"`
	BytesSent            int64           `gorm:"not null;default:0" json:"bytes_sent"`
	BytesReceived        int64           `gorm:"not null;default:0" json:"bytes_received"`
	CounterUploadBytes   int64           `gorm:"not null;default:0" json:"-"`
	CounterDownloadBytes int64           `gorm:"not null;default:0" json:"-"`
	CPUUsage             *float64        `json:"cpu_usage"`
	MemoryUsage          *float64        `json:"memory_usage"`
	NetworkSpeed         *float64        `json:"network_speed"`
	LatencyMs            *float64        `json:"latency_ms"`
	ResponseTimeMs       *float64        `json:"response_time_ms"`
	TokensCost           decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"tokens_cost"`
	TokensEarned         decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"tokens_earned"`
	SettledAt            *time.Time      `gorm:"index" json:"settled_at,omitempty"`
	CreatedAt            time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

func (s Session) Active() bool { return s.EndedAt == nil }

func (s Session) Status() Status {
	if s.Active() {
		return StatusActive
	}
	return StatusEnded
}

// Duration is measured up to now for active sessions.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}
