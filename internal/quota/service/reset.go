package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResetMonthlyUsage zeroes used bandwidth once the reset date is reached and
// moves the reset date past now in whole calendar months. A reset that is
// not yet due is a no-op.
func (s *Service) ResetMonthlyUsage(ctx context.Context, subscriptionID snowflake.ID) error {
	now := s.clock.Now().UTC()
	reset := false
	var next time.Time

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscription(ctx, tx, subscriptionID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return domainerr.NotFound("subscription", subscriptionID)
		}
		if sub.BandwidthResetDate != nil && sub.BandwidthResetDate.After(now) {
			return nil
		}

		anchor := now
		if sub.BandwidthResetDate != nil {
			anchor = sub.BandwidthResetDate.UTC()
		}
		next = nextResetDate(anchor, now)

		reset, err = s.repo.ResetUsage(ctx, tx, sub.ID, now, next)
		return err
	})
	if err != nil {
		return err
	}
	if reset {
		s.log.Info("quota.usage.reset",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Time("next_reset", next),
		)
	}
	return nil
}

func (s *Service) ResetDueSubscriptions(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListDueResets(ctx, s.db, s.clock.Now().UTC(), normalizeLimit(limit))
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.ResetMonthlyUsage(ctx, id); err != nil {
			s.log.Warn("quota.usage.reset_failed", zap.String("subscription_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// nextResetDate advances anchor by calendar months until it is after now.
func nextResetDate(anchor, now time.Time) time.Time {
	next := addMonth(anchor, anchor.Day())
	for !next.After(now) {
		next = addMonth(next, anchor.Day())
	}
	return next
}

// addMonth moves t to the next month on day, clamped to the month's last day.
func addMonth(t time.Time, day int) time.Time {
	year, month, _ := t.Date()
	firstOfNext := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := firstOfNext.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
