package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/clock"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   metricsdomain.Repository
	Puller metricsdomain.Puller
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   metricsdomain.Repository
	puller metricsdomain.Puller
}

func NewService(p Params) metricsdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("servermetrics.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		puller: p.Puller,
	}
}

func (s *Service) Ingest(ctx context.Context, serverID snowflake.ID, report metricsdomain.Report) error {
	if serverID == 0 {
		return metricsdomain.ErrInvalidReport
	}
	for _, peer := range report.Peers {
		if peer.UserID == 0 || peer.UploadBytes < 0 || peer.DownloadBytes < 0 {
			return metricsdomain.ErrInvalidReport
		}
	}

	observedAt := s.clock.Now().UTC()
	if report.ObservedAt != nil && !report.ObservedAt.IsZero() {
		observedAt = report.ObservedAt.UTC()
	}

	snapshot := &metricsdomain.Snapshot{
		ServerID:       serverID,
		CPUUsage:       report.CPUUsage,
		MemoryUsage:    report.MemoryUsage,
		NetworkSpeed:   report.NetworkSpeed,
		LatencyMs:      report.LatencyMs,
		ResponseTimeMs: report.ResponseTimeMs,
		ObservedAt:     observedAt,
	}
	counters := make([]metricsdomain.PeerCounter, 0, len(report.Peers))
	for _, peer := range report.Peers {
		counters = append(counters, metricsdomain.PeerCounter{
			ServerID:      serverID,
			UserID:        peer.UserID,
			UploadBytes:   peer.UploadBytes,
			DownloadBytes: peer.DownloadBytes,
			ObservedAt:    observedAt,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpsertSnapshot(ctx, tx, snapshot); err != nil {
			return err
		}
		return s.repo.UpsertPeerCounters(ctx, tx, counters)
	})
}

func (s *Service) Pull(ctx context.Context, server accountdomain.Server) error {
	report, err := s.puller.Pull(ctx, server)
	if err != nil {
		return err
	}
	if report == nil {
		return metricsdomain.ErrPullUnavailable
	}
	if err := s.Ingest(ctx, server.ID, *report); err != nil {
		return err
	}
	s.log.Debug("servermetrics.pulled",
		zap.String("server_id", server.ID.String()),
		zap.Int("peers", len(report.Peers)),
	)
	return nil
}

func (s *Service) Latest(ctx context.Context, serverID snowflake.ID) (*metricsdomain.Snapshot, error) {
	return s.repo.FindSnapshot(ctx, s.db, serverID)
}

func (s *Service) PeerCounter(ctx context.Context, serverID, userID snowflake.ID) (*metricsdomain.PeerCounter, error) {
	return s.repo.FindPeerCounter(ctx, s.db, serverID, userID)
}

func (s *Service) PeerCounters(ctx context.Context, serverID snowflake.ID) (map[snowflake.ID]metricsdomain.PeerCounter, error) {
	counters, err := s.repo.ListPeerCounters(ctx, s.db, serverID)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]metricsdomain.PeerCounter, len(counters))
	for _, counter := range counters {
		out[counter.UserID] = counter
	}
	return out, nil
}
