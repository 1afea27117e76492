package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() sessiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, session *sessiondomain.Session) error {
	return conn.WithContext(ctx).Create(session).Error
}

// Save writes the mutable progress columns of an active row. Identity and
// start columns are never rewritten, and an ended row is never touched.
func (r *repo) Save(ctx context.Context, conn *gorm.DB, session *sessiondomain.Session) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&sessiondomain.Session{}).
		Where("id = ? AND ended_at IS NULL", session.ID).
		Updates(map[string]any{
			"ended_at":               session.EndedAt,
			"data_transferred_bytes": session.DataTransferredBytes,
			"bytes_sent":             session.BytesSent,
			"bytes_received":         session.BytesReceived,
			"counter_upload_bytes":   session.CounterUploadBytes,
			"counter_download_bytes": session.CounterDownloadBytes,
			"cpu_usage":              session.CPUUsage,
			"memory_usage":           session.MemoryUsage,
			"network_speed":          session.NetworkSpeed,
			"latency_ms":             session.LatencyMs,
			"response_time_ms":       session.ResponseTimeMs,
			"updated_at":             session.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := conn.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// LockActiveByID returns the session under a row lock, or nil when it is
// missing or already ended.
func (r *repo) LockActiveByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := db.ForUpdate(conn.WithContext(ctx).Where("id = ? AND ended_at IS NULL", id)).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) FindByExternalID(ctx context.Context, conn *gorm.DB, externalID string) (*sessiondomain.Session, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	var session sessiondomain.Session
	err := conn.WithContext(ctx).Where("external_session_id = ?", externalID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive returns the most recently started active session matching filter.
func (r *repo) FindActive(ctx context.Context, conn *gorm.DB, filter sessiondomain.ActiveFilter, forUpdate bool) (*sessiondomain.Session, error) {
	query := conn.WithContext(ctx).
		Where("user_id = ? AND ended_at IS NULL", filter.UserID)
	if filter.ServerID != nil {
		query = query.Where("server_id = ?", *filter.ServerID)
	}
	if filter.SessionID != nil {
		query = query.Where("id = ?", *filter.SessionID)
	}
	if externalID := strings.TrimSpace(filter.ExternalSessionID); externalID != "" {
		query = query.Where("external_session_id = ?", externalID)
	}
	if forUpdate {
		query = db.ForUpdate(query)
	}

	var session sessiondomain.Session
	err := query.Order("started_at DESC").Order("id DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) ListActive(ctx context.Context, conn *gorm.DB) ([]sessiondomain.Session, error) {
	var sessions []sessiondomain.Session
	err := conn.WithContext(ctx).
		Where("ended_at IS NULL").
		Order("server_id ASC").
		Order("id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) CountActiveByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&sessiondomain.Session{}).
		Where("user_id = ? AND ended_at IS NULL", userID).
		Count(&count).Error
	return count, err
}
