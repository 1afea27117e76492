package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/notify"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/pricing"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Withdraw debits the balance, then asks the blockchain service to transfer.
// A failed transfer credits the amount back and marks the withdrawal failed.
func (s *Service) Withdraw(ctx context.Context, req tokendomain.WithdrawRequest) (*tokendomain.Withdrawal, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, tokendomain.ErrInvalidAddress
	}
	amount := req.Amount.Round(pricing.Places)
	if !amount.IsPositive() {
		return nil, tokendomain.ErrInvalidAmount
	}
	if _, err := s.directory.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	withdrawal := &tokendomain.Withdrawal{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Address:   address,
		Amount:    amount,
		Status:    tokendomain.WithdrawalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertWithdrawal(ctx, tx, withdrawal); err != nil {
			return err
		}
		_, err := s.applyMovement(ctx, tx, tokendomain.Movement{
			UserID:       req.UserID,
			SourceType:   tokendomain.SourceWithdrawal,
			SourceID:     withdrawal.ID.String(),
			Direction:    tokendomain.DirectionDebit,
			Amount:       amount,
			RequireFunds: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	txHash, transferErr := s.chain.TransferTokens(ctx, address, amount)
	if transferErr != nil {
		return s.failWithdrawal(ctx, withdrawal, transferErr)
	}

	withdrawal.Status = tokendomain.WithdrawalCompleted
	withdrawal.TxHash = &txHash
	withdrawal.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateWithdrawal(ctx, s.db, withdrawal.ID, map[string]any{
		"status":     withdrawal.Status,
		"tx_hash":    txHash,
		"updated_at": withdrawal.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	s.log.Info("tokens.withdrawal.completed",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.String("user_id", withdrawal.UserID.String()),
		zap.String("tx_hash", txHash),
	)
	return withdrawal, nil
}

func (s *Service) failWithdrawal(ctx context.Context, withdrawal *tokendomain.Withdrawal, cause error) (*tokendomain.Withdrawal, error) {
	if !errors.Is(cause, domainerr.ErrPaymentFailed) {
		cause = fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, cause)
	}
	reason := cause.Error()
	withdrawal.Status = tokendomain.WithdrawalFailed
	withdrawal.FailureReason = &reason
	withdrawal.UpdatedAt = s.clock.Now().UTC()

	// The reversal must land even if the request context already expired.
	ctx = context.WithoutCancel(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.applyMovement(ctx, tx, tokendomain.Movement{
			UserID:     withdrawal.UserID,
			SourceType: tokendomain.SourceWithdrawalReversal,
			SourceID:   withdrawal.ID.String(),
			Direction:  tokendomain.DirectionCredit,
			Amount:     withdrawal.Amount,
		}); err != nil {
			return err
		}
		return s.repo.UpdateWithdrawal(ctx, tx, withdrawal.ID, map[string]any{
			"status":         withdrawal.Status,
			"failure_reason": reason,
			"updated_at":     withdrawal.UpdatedAt,
		})
	})
	if err != nil {
		s.log.Error("tokens.withdrawal.reversal_failed",
			zap.String("withdrawal_id", withdrawal.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.notifier.NotifyAsync(ctx, notify.EventWithdrawalFailed, datatypes.JSONMap{
		"withdrawal_id": withdrawal.ID.String(),
		"user_id":       withdrawal.UserID.String(),
		"amount":        withdrawal.Amount.StringFixed(pricing.Places),
		"reason":        reason,
	})
	s.log.Warn("tokens.withdrawal.failed",
		zap.String("withdrawal_id", withdrawal.ID.String()),
		zap.Error(cause),
	)
	return withdrawal, cause
}
