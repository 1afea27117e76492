package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidReport   = errors.New("invalid_metrics_report")
	ErrNoMetricsURL    = errors.New("server_metrics_url_missing")
	ErrPullUnavailable = errors.New("server_metrics_unavailable")
)

type Repository interface {
	UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
	UpsertPeerCounters(ctx context.Context, db *gorm.DB, counters []PeerCounter) error
	FindSnapshot(ctx context.Context, db *gorm.DB, serverID snowflake.ID) (*Snapshot, error)
	FindPeerCounter(ctx context.Context, db *gorm.DB, serverID, userID snowflake.ID) (*PeerCounter, error)
	ListPeerCounters(ctx context.Context, db *gorm.DB, serverID snowflake.ID) ([]PeerCounter, error)
}

// Puller fetches a live report from an edge server.
type Puller interface {
	Pull(ctx context.Context, server accountdomain.Server) (*Report, error)
}

type Service interface {
	// Ingest stores a pushed or pulled report as the server's latest state.
	Ingest(ctx context.Context, serverID snowflake.ID, report Report) error
	// Pull fetches the server's report through the Puller and ingests it.
	Pull(ctx context.Context, server accountdomain.Server) error
	// Latest returns nil when the server never reported.
	Latest(ctx context.Context, serverID snowflake.ID) (*Snapshot, error)
	PeerCounter(ctx context.Context, serverID, userID snowflake.ID) (*PeerCounter, error)
	PeerCounters(ctx context.Context, serverID snowflake.ID) (map[snowflake.ID]PeerCounter, error)
}
