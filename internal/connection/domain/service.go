package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
)

type StartRequest struct {
	UserID    snowflake.ID `json:"user_id"`
	ServerID  snowflake.ID `json:"server_id"`
	SessionID string       `json:"session_id"`
}

type EndRequest struct {
	UserID        snowflake.ID  `json:"user_id"`
	ServerID      *snowflake.ID `json:"server_id,omitempty"`
	SessionID     string        `json:"session_id"`
	BytesSent     *int64        `json:"bytes_sent,omitempty"`
	BytesReceived *int64        `json:"bytes_received,omitempty"`
}

// Service is the surface the edge VPN servers and the API call into.
type Service interface {
	// ValidateConnectionAllowed checks subscription validity, then device
	// headroom, then bandwidth headroom, and returns the first violation.
	ValidateConnectionAllowed(ctx context.Context, userID snowflake.ID) error
	RecordConnectionStart(ctx context.Context, req StartRequest) (*sessiondomain.Session, error)
	// RecordConnectionEnd returns nil, nil when nothing was active.
	RecordConnectionEnd(ctx context.Context, req EndRequest) (*sessiondomain.Session, error)
	GetHistoricalStats(ctx context.Context, query reportingdomain.HistoricalQuery) ([]statsdomain.Aggregate, error)
	ExportCsv(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, string, error)
}
