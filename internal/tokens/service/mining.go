package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/pricing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingMiningReward quotes what a claim would pay right now. Without an
// active session on the server the quote is zero.
func (s *Service) PendingMiningReward(ctx context.Context, userID, serverID snowflake.ID) (tokendomain.MiningQuote, error) {
	server, session, err := s.miningContext(ctx, userID, serverID)
	if err != nil {
		return tokendomain.MiningQuote{}, err
	}
	now := s.clock.Now().UTC()
	quote := tokendomain.MiningQuote{UserID: userID, ServerID: serverID, From: now, To: now, Amount: decimal.Zero}
	if session == nil {
		return quote, nil
	}

	state, err := s.repo.FindMiningState(ctx, s.db, userID, serverID)
	if err != nil {
		return quote, err
	}
	quote.From = accrualStart(state, session)
	quote.Amount = pricing.MiningAccrual(quote.From, now, server.MiningRate)
	return quote, nil
}

// ClaimMiningReward credits the accrued mining reward. Accrual runs from the
// later of the last claim and the session start, capped at 24 hours.
func (s *Service) ClaimMiningReward(ctx context.Context, userID, serverID snowflake.ID) (*tokendomain.MiningClaim, error) {
	server, session, err := s.miningContext(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, tokendomain.ErrNoActiveSession
	}

	now := s.clock.Now().UTC()
	claim := &tokendomain.MiningClaim{
		MiningQuote: tokendomain.MiningQuote{UserID: userID, ServerID: serverID, To: now},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindMiningState(ctx, tx, userID, serverID)
		if err != nil {
			return err
		}
		claim.From = accrualStart(state, session)
		claim.Amount = pricing.MiningAccrual(claim.From, now, server.MiningRate)

		// The accrual window start identifies the claim, so a concurrent
		// claim over the same window is rejected by the ledger.
		applied, err := s.applyMovement(ctx, tx, tokendomain.Movement{
			UserID:     userID,
			SourceType: tokendomain.SourceMiningClaim,
			SourceID:   serverID.String() + ":" + strconv.FormatInt(claim.From.UnixNano(), 10),
			Direction:  tokendomain.DirectionCredit,
			Amount:     claim.Amount,
		})
		if err != nil {
			return err
		}
		if !applied && claim.Amount.IsPositive() {
			claim.Amount = decimal.Zero
			return nil
		}
		return s.repo.SaveMiningState(ctx, tx, &tokendomain.MiningState{
			UserID:        userID,
			ServerID:      serverID,
			LastClaimedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	claim.Balance = balance

	s.log.Info("tokens.mining.claimed",
		zap.String("user_id", userID.String()),
		zap.String("server_id", serverID.String()),
		zap.String("amount", claim.Amount.StringFixed(pricing.Places)),
	)
	return claim, nil
}

func (s *Service) miningContext(ctx context.Context, userID, serverID snowflake.ID) (*accountdomain.Server, *sessiondomain.Session, error) {
	server, err := s.directory.GetServer(ctx, serverID)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.sessions.FindActive(ctx, s.db, sessiondomain.ActiveFilter{UserID: userID, ServerID: &serverID}, false)
	if err != nil {
		return nil, nil, err
	}
	return server, session, nil
}

func accrualStart(state *tokendomain.MiningState, session *sessiondomain.Session) time.Time {
	start := session.StartedAt.UTC()
	if state != nil && state.LastClaimedAt.After(start) {
		start = state.LastClaimedAt.UTC()
	}
	return start
}
