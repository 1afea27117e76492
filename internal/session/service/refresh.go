package service

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// RefreshActiveSessions pulls fresh metrics for every server hosting an
// active session, then folds the latest snapshot and peer counter growth
// into each session. One bad session or server never aborts the pass.
func (s *Service) RefreshActiveSessions(ctx context.Context) (sessiondomain.RefreshResult, error) {
	var result sessiondomain.RefreshResult

	sessions, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return result, err
	}
	result.Sessions = len(sessions)
	if len(sessions) == 0 {
		return result, nil
	}

	serverIDs := distinctServers(sessions)
	result.PullFailures = s.pullServers(ctx, serverIDs)

	for _, serverID := range serverIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		snapshot, err := s.metrics.Latest(ctx, serverID)
		if err != nil {
			s.log.Warn("session.refresh.snapshot_failed", zap.String("server_id", serverID.String()), zap.Error(err))
			snapshot = nil
		}
		counters, err := s.metrics.PeerCounters(ctx, serverID)
		if err != nil {
			s.log.Warn("session.refresh.counters_failed", zap.String("server_id", serverID.String()), zap.Error(err))
			counters = nil
		}

		for i := range sessions {
			session := sessions[i]
			if session.ServerID != serverID {
				continue
			}
			var counter *metricsdomain.PeerCounter
			if c, ok := counters[session.UserID]; ok {
				counter = &c
			}

			refreshed, err := s.refreshOne(ctx, session.ID, snapshot, counter)
			switch {
			case err != nil:
				result.Failed++
				s.log.Warn("session.refresh.failed",
					zap.String("session_id", session.ID.String()),
					zap.String("server_id", serverID.String()),
					zap.Error(err),
				)
			case refreshed:
				result.Refreshed++
			default:
				result.Skipped++
			}
		}
	}

	s.log.Info("session.refresh.finished",
		zap.Int("sessions", result.Sessions),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("pull_failures", result.PullFailures),
	)
	return result, nil
}

// pullServers fetches live reports through a bounded worker pool. Each pull
// has its own timeout so one unresponsive server cannot stall the pass.
func (s *Service) pullServers(ctx context.Context, serverIDs []snowflake.ID) int {
	var (
		mu       sync.Mutex
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.refreshConcurrency)

	for _, serverID := range serverIDs {
		serverID := serverID
		g.Go(func() error {
			server, err := s.directory.GetServer(gctx, serverID)
			if err != nil {
				s.log.Warn("session.refresh.server_lookup_failed", zap.String("server_id", serverID.String()), zap.Error(err))
				return nil
			}
			if server.MetricsURL == "" {
				return nil
			}

			pullCtx, cancel := context.WithTimeout(gctx, s.pullTimeout)
			defer cancel()
			if err := s.metrics.Pull(pullCtx, *server); err != nil {
				if errors.Is(err, metricsdomain.ErrNoMetricsURL) {
					return nil
				}
				mu.Lock()
				failures++
				mu.Unlock()
				s.log.Warn("session.refresh.pull_failed", zap.String("server_id", serverID.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (s *Service) refreshOne(
	ctx context.Context,
	sessionID snowflake.ID,
	snapshot *metricsdomain.Snapshot,
	counter *metricsdomain.PeerCounter,
) (bool, error) {
	refreshed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.repo.LockActiveByID(ctx, tx, sessionID)
		if err != nil || session == nil {
			return err
		}
		applySnapshot(session, snapshot)
		applyCounters(session, counter)
		session.UpdatedAt = s.clock.Now().UTC()
		refreshed, err = s.repo.Save(ctx, tx, session)
		return err
	})
	return refreshed, err
}

func distinctServers(sessions []sessiondomain.Session) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(sessions))
	out := make([]snowflake.ID, 0, len(sessions))
	for _, session := range sessions {
		if _, ok := seen[session.ServerID]; ok {
			continue
		}
		seen[session.ServerID] = struct{}{}
		out = append(out, session.ServerID)
	}
	return out
}
