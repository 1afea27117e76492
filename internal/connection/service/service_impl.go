package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	connectiondomain "github.com/smallbiznis/vpnledger/internal/connection/domain"
	obslogger "github.com/smallbiznis/vpnledger/internal/observability/logger"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Sessions  sessiondomain.Service
	Quota     quotadomain.Service
	Reporting reportingdomain.Service
}

type Service struct {
	log       *zap.Logger
	sessions  sessiondomain.Service
	quota     quotadomain.Service
	reporting reportingdomain.Service
}

func NewService(p Params) connectiondomain.Service {
	return &Service{
		log:       p.Log.Named("connection.service"),
		sessions:  p.Sessions,
		quota:     p.Quota,
		reporting: p.Reporting,
	}
}

func (s *Service) ValidateConnectionAllowed(ctx context.Context, userID snowflake.ID) error {
	checks := []struct {
		name string
		run  func(context.Context, snowflake.ID) error
	}{
		{"subscription", s.quota.ValidateSubscription},
		{"device_limit", s.quota.ValidateDeviceLimit},
		{"bandwidth", s.quota.ValidateBandwidth},
	}
	for _, check := range checks {
		if err := check.run(ctx, userID); err != nil {
			s.logger(ctx).Info("connection.denied",
				zap.String("user_id", userID.String()),
				zap.String("check", check.name),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (s *Service) RecordConnectionStart(ctx context.Context, req connectiondomain.StartRequest) (*sessiondomain.Session, error) {
	return s.sessions.StartSession(ctx, sessiondomain.StartSessionRequest{
		UserID:            req.UserID,
		ServerID:          req.ServerID,
		ExternalSessionID: req.SessionID,
	})
}

func (s *Service) RecordConnectionEnd(ctx context.Context, req connectiondomain.EndRequest) (*sessiondomain.Session, error) {
	session, err := s.sessions.EndSession(ctx, sessiondomain.EndSessionRequest{
		UserID:            req.UserID,
		ServerID:          req.ServerID,
		ExternalSessionID: req.SessionID,
		BytesSent:         req.BytesSent,
		BytesReceived:     req.BytesReceived,
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		s.logger(ctx).Debug("connection.end.no_active_session",
			zap.String("user_id", req.UserID.String()),
			zap.String("session_id", req.SessionID),
		)
	}
	return session, nil
}

func (s *Service) GetHistoricalStats(ctx context.Context, query reportingdomain.HistoricalQuery) ([]statsdomain.Aggregate, error) {
	return s.reporting.GetHistoricalStats(ctx, query)
}

// ExportCsv returns the payload together with its attachment filename.
func (s *Service) ExportCsv(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, string, error) {
	data, err := s.reporting.ExportCsv(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return data, s.reporting.Filename(req), nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
