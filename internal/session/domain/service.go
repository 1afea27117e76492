package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidServer  = errors.New("invalid_server")
	ErrInvalidCounter = errors.New("invalid_byte_counter")
	ErrSessionEnded   = errors.New("session_already_ended")
)

type CloseReason string

const (
	CloseReasonEnded    CloseReason = "ended"
	CloseReasonReplaced CloseReason = "replaced"
)

type StartSessionRequest struct {
	UserID            snowflake.ID `json:"user_id"`
	ServerID          snowflake.ID `json:"server_id"`
	ExternalSessionID string       `json:"session_id"`
}

// EndSessionRequest selects the user's active session, narrowed by the
// optional server or session identifiers. BytesSent and BytesReceived are
// final totals reported by the edge and never lower the recorded values.
type EndSessionRequest struct {
	UserID            snowflake.ID  `json:"user_id"`
	ServerID          *snowflake.ID `json:"server_id,omitempty"`
	SessionID         *snowflake.ID `json:"-"`
	ExternalSessionID string        `json:"session_id"`
	BytesSent         *int64        `json:"bytes_sent,omitempty"`
	BytesReceived     *int64        `json:"bytes_received,omitempty"`
}

type RefreshResult struct {
	Sessions     int `json:"sessions"`
	Refreshed    int `json:"refreshed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	PullFailures int `json:"pull_failures"`
}

// CloseHandler runs after the transaction that ended a session commits.
// Handlers must be idempotent; failed runs are retried by recovery sweeps.
type CloseHandler interface {
	Name() string
	OnSessionClosed(ctx context.Context, session Session) error
}

type ActiveFilter struct {
	UserID            snowflake.ID
	ServerID          *snowflake.ID
	SessionID         *snowflake.ID
	ExternalSessionID string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *Session) error
	// Save updates an active session and reports false when the row has
	// already ended.
	Save(ctx context.Context, db *gorm.DB, session *Session) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Session, error)
	LockActiveByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Session, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Session, error)
	FindActive(ctx context.Context, db *gorm.DB, filter ActiveFilter, forUpdate bool) (*Session, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Session, error)
	CountActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}

type Service interface {
	StartSession(ctx context.Context, req StartSessionRequest) (*Session, error)
	// EndSession returns nil, nil when no matching session is active.
	EndSession(ctx context.Context, req EndSessionRequest) (*Session, error)
	RefreshActiveSessions(ctx context.Context) (RefreshResult, error)
	GetSession(ctx context.Context, id snowflake.ID) (*Session, error)
	CountActiveByUser(ctx context.Context, userID snowflake.ID) (int64, error)
	ListActive(ctx context.Context) ([]Session, error)
}
