package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/blockchain"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/notify"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxVersionRetries  = 5
	settlementSource   = "SESSION_SETTLEMENT"
	defaultSweepLimit  = 100
	defaultEntriesPage = 50
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tokenomics *config.TokenomicsHolder
	Repo       tokendomain.Repository
	Sessions   sessiondomain.Repository
	Directory  accountdomain.Directory
	Chain      blockchain.Client
	Notifier   notify.Notifier     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	tokenomics *config.TokenomicsHolder
	repo       tokendomain.Repository
	sessions   sessiondomain.Repository
	directory  accountdomain.Directory
	chain      blockchain.Client
	notifier   notify.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) tokendomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("tokens.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		tokenomics: p.Tokenomics,
		repo:       p.Repo,
		sessions:   p.Sessions,
		directory:  p.Directory,
		chain:      p.Chain,
		notifier:   notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// SettleSession prices an ended session, writes the amounts onto it, debits
// the consumer and credits the server operator in one transaction.
func (s *Service) SettleSession(ctx context.Context, sessionID snowflake.ID) (*tokendomain.Settlement, error) {
	session, err := s.sessions.FindByID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domainerr.NotFound("session", sessionID)
	}
	if session.Active() || session.SettledAt != nil {
		return nil, nil
	}
	server, err := s.directory.GetServer(ctx, session.ServerID)
	if err != nil {
		return nil, err
	}

	rates := s.tokenomics.Get()
	cost := pricing.SessionCost(session.DataTransferredBytes, rates.CostPerGB)
	multiplier := pricing.PerformanceMultiplier(session.CPUUsage, session.MemoryUsage, session.NetworkSpeed)
	reward := pricing.SessionReward(pricing.WholeMinutes(session.Duration(*session.EndedAt)), rates.BaseRewardRate, multiplier)

	now := s.clock.Now().UTC()
	settlement := &tokendomain.Settlement{
		SessionID:      session.ID,
		UserID:         session.UserID,
		OperatorUserID: server.OperatorUserID,
		Cost:           cost,
		Reward:         reward,
		SettledAt:      now,
	}

	settled := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.repo.MarkSessionSettled(ctx, tx, session.ID, cost, reward, now)
		if err != nil || !marked {
			return err
		}
		sourceID := session.ID.String()
		if _, err := s.applyMovement(ctx, tx, tokendomain.Movement{
			UserID:     session.UserID,
			SourceType: tokendomain.SourceSessionCost,
			SourceID:   sourceID,
			Direction:  tokendomain.DirectionDebit,
			Amount:     cost,
		}); err != nil {
			return err
		}
		if server.OperatorUserID != 0 {
			if _, err := s.applyMovement(ctx, tx, tokendomain.Movement{
				UserID:     server.OperatorUserID,
				SourceType: tokendomain.SourceSessionReward,
				SourceID:   sourceID,
				Direction:  tokendomain.DirectionCredit,
				Amount:     reward,
			}); err != nil {
				return err
			}
		}
		settled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, nil
	}

	s.obsMetrics.RecordSettlement(ctx, settlementSource)
	s.log.Info("tokens.session.settled",
		zap.String("session_id", session.ID.String()),
		zap.String("tokens_cost", cost.StringFixed(pricing.Places)),
		zap.String("tokens_earned", reward.StringFixed(pricing.Places)),
	)
	return settlement, nil
}

// SettleUnsettled settles ended sessions whose close handler did not.
func (s *Service) SettleUnsettled(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	sessions, err := s.repo.ListUnsettledSessions(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}

	var (
		settled int
		errs    []error
	)
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, err := s.SettleSession(ctx, session.ID)
		if err != nil {
			s.log.Warn("tokens.settlement.recovery_failed", zap.String("session_id", session.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if result != nil {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if balance == nil {
		return decimal.Zero, nil
	}
	return balance.Balance, nil
}

func (s *Service) ListEntries(ctx context.Context, userID snowflake.ID, limit int) ([]tokendomain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntriesPage
	}
	return s.repo.ListEntries(ctx, s.db, userID, limit)
}

// applyMovement inserts the ledger entry and moves the balance. A source
// already in the ledger is reported as not applied and leaves the balance
// untouched.
func (s *Service) applyMovement(ctx context.Context, tx *gorm.DB, m tokendomain.Movement) (bool, error) {
	if m.Amount.IsNegative() {
		return false, tokendomain.ErrInvalidAmount
	}
	if m.Amount.IsZero() {
		return false, nil
	}
	now := s.clock.Now().UTC()

	inserted, err := s.repo.InsertEntry(ctx, tx, &tokendomain.LedgerEntry{
		ID:         s.genID.Generate(),
		UserID:     m.UserID,
		SourceType: m.SourceType,
		SourceID:   m.SourceID,
		Direction:  m.Direction,
		Amount:     m.Amount,
		CreatedAt:  now,
	})
	if err != nil || !inserted {
		return false, err
	}
	if err := s.repo.EnsureBalance(ctx, tx, m.UserID, now); err != nil {
		return false, err
	}

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		current, err := s.repo.FindBalance(ctx, tx, m.UserID)
		if err != nil {
			return false, err
		}
		if current == nil {
			return false, domainerr.NotFound("token_balance", m.UserID)
		}

		next := current.Balance.Add(m.Amount)
		if m.Direction == tokendomain.DirectionDebit {
			next = current.Balance.Sub(m.Amount)
			if m.RequireFunds && next.IsNegative() {
				return false, domainerr.ErrInsufficientBalance
			}
		}

		updated, err := s.repo.UpdateBalance(ctx, tx, m.UserID, current.Version, next.Round(pricing.Places), now)
		if err != nil {
			return false, err
		}
		if updated {
			return true, nil
		}
	}
	return false, tokendomain.ErrConcurrentUpdate
}
