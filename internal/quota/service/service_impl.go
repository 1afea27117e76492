package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/notify"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tokenomics *config.TokenomicsHolder
	Repo       quotadomain.Repository
	Sessions   sessiondomain.Repository
	Directory  accountdomain.Directory
	Notifier   notify.Notifier     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	tokenomics *config.TokenomicsHolder
	repo       quotadomain.Repository
	sessions   sessiondomain.Repository
	directory  accountdomain.Directory
	notifier   notify.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quota.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		tokenomics: p.Tokenomics,
		repo:       p.Repo,
		sessions:   p.Sessions,
		directory:  p.Directory,
		notifier:   notifier,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ValidateBandwidth(ctx context.Context, userID snowflake.ID) error {
	sub, err := s.directory.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return err
	}
	quota := quotadomain.FromColumn(sub.BandwidthQuotaBytes)
	if quota.Exceeded(sub.BandwidthUsedBytes, sub.BandwidthAddonBytes) {
		limit, _ := quota.Limit(sub.BandwidthAddonBytes)
		return &domainerr.BandwidthExceededError{Used: sub.BandwidthUsedBytes, Limit: limit}
	}
	return nil
}

func (s *Service) ValidateDeviceLimit(ctx context.Context, userID snowflake.ID) error {
	sub, err := s.directory.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return err
	}
	active, err := s.sessions.CountActiveByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	limit := deviceLimit(sub)
	if active >= limit {
		return &domainerr.DeviceLimitExceededError{Active: active, Limit: limit}
	}
	return nil
}

func (s *Service) ValidateSubscription(ctx context.Context, userID snowflake.ID) error {
	sub, err := s.directory.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if !sub.IsCurrent(s.clock.Now()) {
		return &domainerr.SubscriptionExpiredError{SubscriptionID: sub.ID.String(), EndDate: sub.EndDate}
	}
	return nil
}

// RecordUsage adds the transferred bytes to the current subscription. The
// usage record insert and the counter update share one transaction, so a
// source key is applied at most once.
func (s *Service) RecordUsage(ctx context.Context, req quotadomain.RecordUsageRequest) (bool, error) {
	if req.UserID == 0 {
		return false, quotadomain.ErrInvalidUser
	}
	if req.BytesSent < 0 || req.BytesReceived < 0 {
		return false, quotadomain.ErrInvalidUsage
	}
	sourceKey := strings.TrimSpace(req.SourceKey)
	if sourceKey == "" {
		return false, quotadomain.ErrInvalidSourceKey
	}
	bytes := req.BytesSent + req.BytesReceived

	var (
		applied bool
		before  accountdomain.Subscription
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.directory.GetCurrentSubscriptionForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		inserted, err := s.repo.InsertUsageRecord(ctx, tx, &quotadomain.UsageRecord{
			SourceKey:      sourceKey,
			SessionID:      req.SessionID,
			UserID:         req.UserID,
			SubscriptionID: sub.ID,
			Bytes:          bytes,
			CreatedAt:      s.clock.Now().UTC(),
		})
		if err != nil || !inserted {
			return err
		}
		if bytes > 0 {
			if err := s.repo.AddUsedBytes(ctx, tx, sub.ID, bytes); err != nil {
				return err
			}
		}
		before = *sub
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}

	s.warnOnThresholds(ctx, req.UserID, before, bytes)
	return true, nil
}

// RecordPendingSessionUsage applies usage for ended sessions whose close
// handler never recorded it.
func (s *Service) RecordPendingSessionUsage(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions, err := s.repo.ListUnrecordedSessions(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}

	var (
		recorded int
		errs     []error
	)
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		req := sessionUsageRequest(session)
		ok, err := s.RecordUsage(ctx, req)
		if errors.Is(err, domainerr.ErrNotFound) {
			// No subscription to charge; mark the session so it is not selected again.
			_, err = s.repo.InsertUsageRecord(ctx, s.db, &quotadomain.UsageRecord{
				SourceKey: req.SourceKey,
				SessionID: req.SessionID,
				UserID:    req.UserID,
				Bytes:     req.BytesSent + req.BytesReceived,
				CreatedAt: s.clock.Now().UTC(),
			})
		}
		if err != nil {
			s.log.Warn("quota.usage.recovery_failed", zap.String("session_id", session.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			recorded++
		}
	}
	return recorded, errors.Join(errs...)
}

func (s *Service) QuotaStatus(ctx context.Context, userID snowflake.ID) (quotadomain.Status, error) {
	sub, err := s.directory.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return quotadomain.Status{}, err
	}
	quota := quotadomain.FromColumn(sub.BandwidthQuotaBytes)
	status := quotadomain.Status{
		SubscriptionID: sub.ID,
		Unlimited:      quota.IsUnlimited(),
		QuotaBytes:     quota.Column(),
		AddonBytes:     sub.BandwidthAddonBytes,
		UsedBytes:      sub.BandwidthUsedBytes,
		ResetDate:      sub.BandwidthResetDate,
		DeviceLimit:    deviceLimit(sub),
	}
	if limit, ok := quota.Limit(sub.BandwidthAddonBytes); ok {
		remaining := limit - sub.BandwidthUsedBytes
		if remaining < 0 {
			remaining = 0
		}
		status.RemainingBytes = &remaining
		status.PercentUsed = percentUsed(sub.BandwidthUsedBytes, limit)
	}
	return status, nil
}

func (s *Service) warnOnThresholds(ctx context.Context, userID snowflake.ID, before accountdomain.Subscription, bytes int64) {
	limit, ok := quotadomain.FromColumn(before.BandwidthQuotaBytes).Limit(before.BandwidthAddonBytes)
	if !ok || limit <= 0 || bytes <= 0 {
		return
	}
	prev := percentUsed(before.BandwidthUsedBytes, limit)
	next := percentUsed(before.BandwidthUsedBytes+bytes, limit)

	for _, threshold := range s.tokenomics.Get().WarningThresholds {
		if prev < threshold && next >= threshold {
			s.notifier.NotifyAsync(ctx, notify.EventBandwidthWarning, datatypes.JSONMap{
				"user_id":         userID.String(),
				"subscription_id": before.ID.String(),
				"threshold":       threshold,
				"percent_used":    next,
				"limit_bytes":     limit,
			})
		}
	}
}

func percentUsed(used, limit int64) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) / float64(limit) * 100
}

func deviceLimit(sub *accountdomain.Subscription) int64 {
	if sub.MultiLoginCount < 1 {
		return 1
	}
	return sub.MultiLoginCount
}

func sessionUsageRequest(session sessiondomain.Session) quotadomain.RecordUsageRequest {
	id := session.ID
	return quotadomain.RecordUsageRequest{
		UserID:        session.UserID,
		SessionID:     &id,
		BytesSent:     session.BytesSent,
		BytesReceived: session.BytesReceived,
		SourceKey:     quotadomain.SessionSourceKey(session.ID),
	}
}
