package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultGrantSource = "promotion"

// GrantExtraLogins raises the subscription's device limit. The applied flag
// gates the increment to once per grant.
func (s *Service) GrantExtraLogins(ctx context.Context, req quotadomain.GrantRequest) (*quotadomain.ExtraLoginGrant, error) {
	if req.UserID == 0 {
		return nil, quotadomain.ErrInvalidUser
	}
	if req.ExtraLogins <= 0 {
		return nil, quotadomain.ErrInvalidGrant
	}
	now := s.clock.Now().UTC()
	if req.ExpiryDate != nil && !req.ExpiryDate.After(now) {
		return nil, quotadomain.ErrInvalidGrant
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultGrantSource
	}

	sub, err := s.directory.GetCurrentSubscription(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	grant := &quotadomain.ExtraLoginGrant{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		SubscriptionID: sub.ID,
		ExtraLogins:    req.ExtraLogins,
		Source:         source,
		ExpiryDate:     req.ExpiryDate,
		Active:         true,
		CreatedAt:      now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertGrant(ctx, tx, grant); err != nil {
			return err
		}
		locked, err := s.repo.FindSubscription(ctx, tx, sub.ID, true)
		if err != nil {
			return err
		}
		if locked == nil {
			return domainerr.NotFound("subscription", sub.ID)
		}
		applied, err := s.repo.MarkGrantApplied(ctx, tx, grant.ID)
		if err != nil || !applied {
			return err
		}
		grant.Applied = true
		return s.repo.UpdateSubscription(ctx, tx, locked.ID, map[string]any{
			"multi_login_count": deviceLimit(locked) + grant.ExtraLogins,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quota.extra_logins.granted",
		zap.String("grant_id", grant.ID.String()),
		zap.String("subscription_id", grant.SubscriptionID.String()),
		zap.Int64("extra_logins", grant.ExtraLogins),
	)
	return grant, nil
}

// ExpireGrant deactivates the grant and takes its logins back, never below
// one device.
func (s *Service) ExpireGrant(ctx context.Context, grantID snowflake.ID) (bool, error) {
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grant, err := s.repo.FindGrant(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if grant == nil {
			return domainerr.NotFound("extra_login_grant", grantID)
		}
		deactivated, err := s.repo.DeactivateGrant(ctx, tx, grant.ID)
		if err != nil || !deactivated {
			return err
		}
		expired = true
		if !grant.Applied {
			return nil
		}

		sub, err := s.repo.FindSubscription(ctx, tx, grant.SubscriptionID, true)
		if err != nil || sub == nil {
			return err
		}
		count := deviceLimit(sub) - grant.ExtraLogins
		if count < 1 {
			count = 1
		}
		return s.repo.UpdateSubscription(ctx, tx, sub.ID, map[string]any{"multi_login_count": count})
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.log.Info("quota.extra_logins.expired", zap.String("grant_id", grantID.String()))
	}
	return expired, nil
}

func (s *Service) ListExpiredGrants(ctx context.Context, limit int) ([]quotadomain.ExtraLoginGrant, error) {
	return s.repo.ListExpiredGrants(ctx, s.db, s.clock.Now().UTC(), normalizeLimit(limit))
}
