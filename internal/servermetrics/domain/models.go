// Package domain defines the latest observed metrics per edge server and the
// cumulative per-peer byte counters reported alongside them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Snapshot struct {
	ServerID       snowflake.ID `gorm:"primaryKey" json:"server_id"`
	CPUUsage       *float64     `json:"cpu_usage"`
	MemoryUsage    *float64     `json:"memory_usage"`
	NetworkSpeed   *float64     `json:"network_speed"`
	LatencyMs      *float64     `json:"latency_ms"`
	ResponseTimeMs *float64     `json:"response_time_ms"`
	ObservedAt     time.Time    `gorm:"not null" json:"observed_at"`
}

func (Snapshot) TableName() string { return "server_metrics_snapshots" }

// PeerCounter holds byte counters that grow monotonically until the peer
// restarts, at which point they start again from zero.
type PeerCounter struct {
	ServerID      snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"primaryKey"`
	UploadBytes   int64        `gorm:"not null;default:0"`
	DownloadBytes int64        `gorm:"not null;default:0"`
	ObservedAt    time.Time    `gorm:"not null"`
}

func (PeerCounter) TableName() string { return "server_peer_counters" }

// Report is the payload pushed by, or pulled from, an edge server.
type Report struct {
	CPUUsage       *float64     `json:"cpu_usage"`
	MemoryUsage    *float64     `json:"memory_usage"`
	NetworkSpeed   *float64     `json:"network_speed"`
	LatencyMs      *float64     `json:"latency_ms"`
	ResponseTimeMs *float64     `json:"response_time_ms"`
	ObservedAt     *time.Time   `json:"observed_at,omitempty"`
	Peers          []PeerReport `json:"peers"`
}

type PeerReport struct {
	UserID        snowflake.ID `json:"user_id"`
	UploadBytes   int64        `json:"upload_bytes"`
	DownloadBytes int64        `json:"download_bytes"`
}
