package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/notify"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	addonKindUnlimited = "unlimited"
	addonKindBandwidth = "bandwidth"
)

func (s *Service) ProcessAddonPurchase(ctx context.Context, req quotadomain.PurchaseRequest) (*quotadomain.QuotaAddon, error) {
	if req.UserID == 0 {
		return nil, quotadomain.ErrInvalidUser
	}
	token := strings.TrimSpace(req.PurchaseToken)
	if token == "" {
		return nil, quotadomain.ErrInvalidPurchaseToken
	}

	// A replayed receipt succeeds even if its product has since left the catalog.
	existing, err := s.repo.FindAddonByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayedPurchase(ctx, existing)
	}

	product, ok := s.tokenomics.Get().Product(req.ProductID)
	if !ok {
		return nil, domainerr.ErrInvalidProduct
	}

	sub, err := s.directory.GetCurrentSubscription(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	price := req.Price.Decimal
	if !req.Price.Valid {
		price, err = decimal.NewFromString(product.Price)
		if err != nil {
			price = decimal.Zero
		}
	}
	now := s.clock.Now().UTC()
	metadata := req.Metadata
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	addon := &quotadomain.QuotaAddon{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		SubscriptionID: sub.ID,
		ProductID:      product.ID,
		BandwidthBytes: product.BandwidthBytes,
		Price:          price.Round(8),
		PurchaseToken:  token,
		Active:         true,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if product.DurationDays > 0 {
		expiry := now.AddDate(0, 0, product.DurationDays)
		addon.ExpiryDate = &expiry
	}

	if err := s.repo.InsertAddon(ctx, s.db, addon); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Lost the race to a concurrent delivery of the same receipt.
		existing, findErr := s.repo.FindAddonByToken(ctx, s.db, token)
		if findErr != nil || existing == nil {
			return nil, errors.Join(err, findErr)
		}
		return s.replayedPurchase(ctx, existing)
	}

	s.log.Info("quota.addon.purchased",
		zap.String("addon_id", addon.ID.String()),
		zap.String("user_id", addon.UserID.String()),
		zap.String("product_id", addon.ProductID),
	)
	return s.ApplyAddon(ctx, addon.ID)
}

func (s *Service) replayedPurchase(ctx context.Context, existing *quotadomain.QuotaAddon) (*quotadomain.QuotaAddon, error) {
	dup := &domainerr.DuplicatePurchaseError{Token: existing.PurchaseToken}
	if existing.Applied {
		return existing, dup
	}
	applied, err := s.ApplyAddon(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return applied, dup
}

// ApplyAddon credits the addon to its subscription exactly once. Calling it
// again returns the addon unchanged.
func (s *Service) ApplyAddon(ctx context.Context, addonID snowflake.ID) (*quotadomain.QuotaAddon, error) {
	var (
		result  *quotadomain.QuotaAddon
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		addon, err := s.repo.FindAddon(ctx, tx, addonID)
		if err != nil {
			return err
		}
		if addon == nil {
			return domainerr.NotFound("quota_addon", addonID)
		}
		result = addon
		if addon.Applied {
			return nil
		}

		sub, err := s.repo.FindSubscription(ctx, tx, addon.SubscriptionID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return domainerr.NotFound("subscription", addon.SubscriptionID)
		}

		now := s.clock.Now().UTC()
		effect := addon.Effect()

		var previous *int64
		if effect.Unlimited {
			previous = sub.BandwidthQuotaBytes
		}
		marked, err := s.repo.MarkAddonApplied(ctx, tx, addon.ID, now, previous)
		if err != nil || !marked {
			return err
		}

		fields := map[string]any{"updated_at": now}
		if effect.Unlimited {
			fields["bandwidth_quota_bytes"] = nil
		} else {
			fields["bandwidth_addon_bytes"] = gorm.Expr("bandwidth_addon_bytes + ?", effect.Bytes)
		}
		if err := s.repo.UpdateSubscription(ctx, tx, sub.ID, fields); err != nil {
			return err
		}

		addon.Applied = true
		addon.AppliedAt = &now
		addon.PreviousQuotaBytes = previous
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		kind := addonKindBandwidth
		if result.Effect().Unlimited {
			kind = addonKindUnlimited
		}
		s.obsMetrics.RecordAddonApplied(ctx, kind)
		s.notifier.NotifyAsync(ctx, notify.EventAddonApplied, datatypes.JSONMap{
			"addon_id":        result.ID.String(),
			"user_id":         result.UserID.String(),
			"subscription_id": result.SubscriptionID.String(),
			"product_id":      result.ProductID,
			"kind":            kind,
		})
		s.log.Info("quota.addon.applied",
			zap.String("addon_id", result.ID.String()),
			zap.String("subscription_id", result.SubscriptionID.String()),
			zap.String("kind", kind),
		)
	}
	return result, nil
}

// ExpireAddon deactivates the addon and reverses its effect. It reports
// false when the addon was already inactive.
func (s *Service) ExpireAddon(ctx context.Context, addonID snowflake.ID) (bool, error) {
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		addon, err := s.repo.FindAddon(ctx, tx, addonID)
		if err != nil {
			return err
		}
		if addon == nil {
			return domainerr.NotFound("quota_addon", addonID)
		}
		deactivated, err := s.repo.DeactivateAddon(ctx, tx, addon.ID)
		if err != nil || !deactivated {
			return err
		}
		expired = true
		if !addon.Applied {
			return nil
		}

		sub, err := s.repo.FindSubscription(ctx, tx, addon.SubscriptionID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}

		fields := map[string]any{}
		if effect := addon.Effect(); effect.Unlimited {
			// Another unlimited addon still holds the subscription open. Only the
			// addon applied over a bounded quota carries the value to restore,
			// and it passes that value on.
			other, err := s.repo.FindActiveUnlimitedAddon(ctx, tx, sub.ID, addon.ID)
			if err != nil {
				return err
			}
			if other != nil {
				if addon.PreviousQuotaBytes == nil {
					return nil
				}
				return s.repo.SetPreviousQuota(ctx, tx, other.ID, addon.PreviousQuotaBytes)
			}
			fields["bandwidth_quota_bytes"] = addon.PreviousQuotaBytes
		} else {
			remaining := sub.BandwidthAddonBytes - effect.Bytes
			if remaining < 0 {
				remaining = 0
			}
			fields["bandwidth_addon_bytes"] = remaining
		}
		return s.repo.UpdateSubscription(ctx, tx, sub.ID, fields)
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.log.Info("quota.addon.expired", zap.String("addon_id", addonID.String()))
	}
	return expired, nil
}

func (s *Service) ListExpiredAddons(ctx context.Context, limit int) ([]quotadomain.QuotaAddon, error) {
	return s.repo.ListExpiredAddons(ctx, s.db, s.clock.Now().UTC(), normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

