package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultRefreshConcurrency = 8
	defaultPullTimeout        = 30 * time.Second
	maxStartAttempts          = 3
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Repo          sessiondomain.Repository
	Directory     accountdomain.Directory
	Metrics       metricsdomain.Service
	ObsMetrics    *obsmetrics.Metrics          `optional:"true"`
	CloseHandlers []sessiondomain.CloseHandler `group:"session.close"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo          sessiondomain.Repository
	directory     accountdomain.Directory
	metrics       metricsdomain.Service
	obsMetrics    *obsmetrics.Metrics
	closeHandlers []sessiondomain.CloseHandler

	refreshConcurrency int
	pullTimeout        time.Duration
}

func NewService(p Params) sessiondomain.Service {
	concurrency := p.Config.Scheduler.RefreshConcurrency
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	pullTimeout := p.Config.Scheduler.MetricsPullTimeout
	if pullTimeout <= 0 {
		pullTimeout = defaultPullTimeout
	}
	handlers := make([]sessiondomain.CloseHandler, 0, len(p.CloseHandlers))
	for _, handler := range p.CloseHandlers {
		if handler != nil {
			handlers = append(handlers, handler)
		}
	}

	return &Service{
		db:    p.DB,
		log:   p.Log.Named("session.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:          p.Repo,
		directory:     p.Directory,
		metrics:       p.Metrics,
		obsMetrics:    p.ObsMetrics,
		closeHandlers: handlers,

		refreshConcurrency: concurrency,
		pullTimeout:        pullTimeout,
	}
}

// StartSession opens a new ACTIVE session for (user, server), closing the
// pair's previous active session in the same transaction. A replayed edge
// session id returns the session it already created.
func (s *Service) StartSession(ctx context.Context, req sessiondomain.StartSessionRequest) (*sessiondomain.Session, error) {
	if req.UserID == 0 {
		return nil, sessiondomain.ErrInvalidUser
	}
	if req.ServerID == 0 {
		return nil, sessiondomain.ErrInvalidServer
	}
	if _, err := s.directory.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetServer(ctx, req.ServerID); err != nil {
		return nil, err
	}

	externalID := strings.TrimSpace(req.ExternalSessionID)
	if existing, err := s.repo.FindByExternalID(ctx, s.db, externalID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	snapshot, counter, err := s.loadServerState(ctx, req.ServerID, req.UserID)
	if err != nil {
		return nil, err
	}

	var (
		created *sessiondomain.Session
		closed  *sessiondomain.Session
	)
	for attempt := 1; attempt <= maxStartAttempts; attempt++ {
		created, closed, err = s.startInTx(ctx, req.UserID, req.ServerID, externalID, snapshot, counter)
		if err == nil || !db.IsDuplicateKeyErr(err) || attempt == maxStartAttempts {
			break
		}
		// A concurrent start won the active-pair index; the next attempt
		// closes the session it created.
		s.log.Debug("session.start.retry", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return nil, err
	}

	if closed != nil {
		s.afterClose(ctx, *closed, sessiondomain.CloseReasonReplaced)
	}
	s.obsMetrics.RecordSessionOpened(ctx)
	s.log.Info("session.started",
		zap.String("session_id", created.ID.String()),
		zap.String("user_id", created.UserID.String()),
		zap.String("server_id", created.ServerID.String()),
	)
	return created, nil
}

func (s *Service) startInTx(
	ctx context.Context,
	userID, serverID snowflake.ID,
	externalID string,
	snapshot *metricsdomain.Snapshot,
	counter *metricsdomain.PeerCounter,
) (*sessiondomain.Session, *sessiondomain.Session, error) {
	var (
		created *sessiondomain.Session
		closed  *sessiondomain.Session
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()

		existing, err := s.repo.FindActive(ctx, tx, sessiondomain.ActiveFilter{
			UserID:   userID,
			ServerID: &serverID,
		}, true)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := s.closeInTx(ctx, tx, existing, snapshot, counter, nil, nil, now); err != nil {
				return err
			}
			closed = existing
		}

		session := &sessiondomain.Session{
			ID:        s.genID.Generate(),
			UserID:    userID,
			ServerID:  serverID,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if externalID != "" {
			session.ExternalSessionID = &externalID
		}
		if counter != nil {
			session.CounterUploadBytes = counter.UploadBytes
			session.CounterDownloadBytes = counter.DownloadBytes
		}
		applySnapshot(session, snapshot)

		if err := s.repo.Insert(ctx, tx, session); err != nil {
			return err
		}
		created = session
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, closed, nil
}

func (s *Service) EndSession(ctx context.Context, req sessiondomain.EndSessionRequest) (*sessiondomain.Session, error) {
	if req.UserID == 0 {
		return nil, sessiondomain.ErrInvalidUser
	}
	if (req.BytesSent != nil && *req.BytesSent < 0) || (req.BytesReceived != nil && *req.BytesReceived < 0) {
		return nil, sessiondomain.ErrInvalidCounter
	}

	filter := sessiondomain.ActiveFilter{
		UserID:            req.UserID,
		ServerID:          req.ServerID,
		SessionID:         req.SessionID,
		ExternalSessionID: req.ExternalSessionID,
	}
	candidate, err := s.repo.FindActive(ctx, s.db, filter, false)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	snapshot, counter, err := s.loadServerState(ctx, candidate.ServerID, candidate.UserID)
	if err != nil {
		return nil, err
	}

	var closed *sessiondomain.Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id := candidate.ID
		locked, err := s.repo.FindActive(ctx, tx, sessiondomain.ActiveFilter{
			UserID:    candidate.UserID,
			SessionID: &id,
		}, true)
		if err != nil {
			return err
		}
		if locked == nil {
			return nil
		}
		if err := s.closeInTx(ctx, tx, locked, snapshot, counter, req.BytesSent, req.BytesReceived, s.clock.Now().UTC()); err != nil {
			return err
		}
		closed = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed == nil {
		return nil, nil
	}

	s.afterClose(ctx, *closed, sessiondomain.CloseReasonEnded)
	return closed, nil
}

// closeInTx is the single ACTIVE to ENDED transition used by both start and end.
func (s *Service) closeInTx(
	ctx context.Context,
	tx *gorm.DB,
	session *sessiondomain.Session,
	snapshot *metricsdomain.Snapshot,
	counter *metricsdomain.PeerCounter,
	sent, received *int64,
	now time.Time,
) error {
	applySnapshot(session, snapshot)
	applyCounters(session, counter)
	applyReported(session, sent, received)

	endedAt := now
	if endedAt.Before(session.StartedAt) {
		endedAt = session.StartedAt
	}
	session.EndedAt = &endedAt
	session.UpdatedAt = now
	ok, err := s.repo.Save(ctx, tx, session)
	if err != nil {
		return err
	}
	if !ok {
		return sessiondomain.ErrSessionEnded
	}
	return nil
}

func (s *Service) afterClose(ctx context.Context, session sessiondomain.Session, reason sessiondomain.CloseReason) {
	s.obsMetrics.RecordSessionClosed(ctx, string(reason))
	s.log.Info("session.ended",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", session.UserID.String()),
		zap.String("server_id", session.ServerID.String()),
		zap.String("reason", string(reason)),
		zap.Int64("data_transferred_bytes", session.DataTransferredBytes),
	)

	for _, handler := range s.closeHandlers {
		if err := handler.OnSessionClosed(ctx, session); err != nil {
			s.log.Warn("session.close_handler.failed",
				zap.String("handler", handler.Name()),
				zap.String("session_id", session.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// loadServerState reads the latest metrics outside any transaction so the
// write transaction only holds the session row.
func (s *Service) loadServerState(ctx context.Context, serverID, userID snowflake.ID) (*metricsdomain.Snapshot, *metricsdomain.PeerCounter, error) {
	snapshot, err := s.metrics.Latest(ctx, serverID)
	if err != nil {
		return nil, nil, err
	}
	counter, err := s.metrics.PeerCounter(ctx, serverID, userID)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, counter, nil
}

func (s *Service) GetSession(ctx context.Context, id snowflake.ID) (*sessiondomain.Session, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) CountActiveByUser(ctx context.Context, userID snowflake.ID) (int64, error) {
	return s.repo.CountActiveByUser(ctx, s.db, userID)
}

func (s *Service) ListActive(ctx context.Context) ([]sessiondomain.Session, error) {
	return s.repo.ListActive(ctx, s.db)
}
