// Package retention purges raw session rows past the retention horizon and
// expires time-limited quota grants.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSessionMonths   = 3
	defaultDeleteBatchSize = 5000
	defaultMaxBatches      = 2000
	defaultExpiryBatchSize = 100
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Quota  quotadomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	quota      quotadomain.Service
	months     int
	batch      int
	maxBatches int
}

func NewService(p Params) *Service {
	cfg := p.Config.Retention
	months := cfg.SessionMonths
	if months <= 0 {
		months = defaultSessionMonths
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultDeleteBatchSize
	}
	maxBatches := cfg.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("retention.service"),
		clock:      p.Clock,
		quota:      p.Quota,
		months:     months,
		batch:      batch,
		maxBatches: maxBatches,
	}
}

// Cutoff is the ended_at horizon; sessions that ended before it are purged.
func (s *Service) Cutoff() time.Time {
	return s.clock.Now().UTC().AddDate(0, -s.months, 0)
}

// PurgeEndedSessions deletes ended sessions older than the horizon in id
// batches. Active sessions are never touched.
func (s *Service) PurgeEndedSessions(ctx context.Context) (int64, error) {
	cutoff := s.Cutoff()

	var deleted int64
	for i := 0; i < s.maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		n, err := s.deleteBatch(ctx, cutoff)
		if err != nil {
			return deleted, err
		}
		if n <= 0 {
			break
		}
		deleted += n
	}

	if deleted > 0 {
		s.log.Info("retention.sessions.purged",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

func (s *Service) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE ended_at IS NOT NULL AND ended_at < ?
			ORDER BY id ASC
			LIMIT ?
		)
	`, cutoff, s.batch)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ExpireAddons reverses every active addon past its expiry date. Each addon
// is expired in its own transaction; failures are logged and skipped.
func (s *Service) ExpireAddons(ctx context.Context) (int, error) {
	var (
		expired int
		errs    []error
		failed  = make(map[string]struct{})
	)
	for i := 0; i < s.maxBatches; i++ {
		addons, err := s.quota.ListExpiredAddons(ctx, defaultExpiryBatchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}
		progressed := false
		for _, addon := range addons {
			if _, seen := failed[addon.ID.String()]; seen {
				continue
			}
			ok, err := s.quota.ExpireAddon(ctx, addon.ID)
			if err != nil {
				s.log.Warn("retention.addon.expire_failed", zap.String("addon_id", addon.ID.String()), zap.Error(err))
				failed[addon.ID.String()] = struct{}{}
				errs = append(errs, err)
				continue
			}
			progressed = true
			if ok {
				expired++
			}
		}
		if !progressed || len(addons) < defaultExpiryBatchSize {
			break
		}
	}
	if expired > 0 {
		s.log.Info("retention.addons.expired", zap.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}

// ExpireExtraLogins deactivates grants past their expiry date.
func (s *Service) ExpireExtraLogins(ctx context.Context) (int, error) {
	var (
		expired int
		errs    []error
		failed  = make(map[string]struct{})
	)
	for i := 0; i < s.maxBatches; i++ {
		grants, err := s.quota.ListExpiredGrants(ctx, defaultExpiryBatchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}
		progressed := false
		for _, grant := range grants {
			if _, seen := failed[grant.ID.String()]; seen {
				continue
			}
			ok, err := s.quota.ExpireGrant(ctx, grant.ID)
			if err != nil {
				s.log.Warn("retention.extra_login.expire_failed", zap.String("grant_id", grant.ID.String()), zap.Error(err))
				failed[grant.ID.String()] = struct{}{}
				errs = append(errs, err)
				continue
			}
			progressed = true
			if ok {
				expired++
			}
		}
		if !progressed || len(grants) < defaultExpiryBatchSize {
			break
		}
	}
	if expired > 0 {
		s.log.Info("retention.extra_logins.expired", zap.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}
