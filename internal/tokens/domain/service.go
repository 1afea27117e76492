package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidAddress   = errors.New("invalid_wallet_address")
	ErrNoActiveSession  = errors.New("no_active_session")
	ErrConcurrentUpdate = errors.New("balance_concurrent_update")
)

type Settlement struct {
	SessionID      snowflake.ID    `json:"session_id"`
	UserID         snowflake.ID    `json:"user_id"`
	OperatorUserID snowflake.ID    `json:"operator_user_id"`
	Cost           decimal.Decimal `json:"tokens_cost"`
	Reward         decimal.Decimal `json:"tokens_earned"`
	SettledAt      time.Time       `json:"settled_at"`
}

type MiningQuote struct {
	UserID   snowflake.ID    `json:"user_id"`
	ServerID snowflake.ID    `json:"server_id"`
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
}

type MiningClaim struct {
	MiningQuote
	Balance decimal.Decimal `json:"balance"`
}

type WithdrawRequest struct {
	UserID  snowflake.ID    `json:"user_id"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// Movement is one ledger entry to apply. RequireFunds rejects a debit that
// would take the balance below zero.
type Movement struct {
	UserID       snowflake.ID
	SourceType   SourceType
	SourceID     string
	Direction    Direction
	Amount       decimal.Decimal
	RequireFunds bool
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error
	FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*TokenBalance, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, version int64, balance decimal.Decimal, now time.Time) (bool, error)
	ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]LedgerEntry, error)

	MarkSessionSettled(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, cost, reward decimal.Decimal, at time.Time) (bool, error)
	ListUnsettledSessions(ctx context.Context, db *gorm.DB, limit int) ([]sessiondomain.Session, error)

	FindMiningState(ctx context.Context, db *gorm.DB, userID, serverID snowflake.ID) (*MiningState, error)
	SaveMiningState(ctx context.Context, db *gorm.DB, state *MiningState) error

	InsertWithdrawal(ctx context.Context, db *gorm.DB, w *Withdrawal) error
	UpdateWithdrawal(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
}

type Service interface {
	// SettleSession returns nil, nil for an active or already settled session.
	SettleSession(ctx context.Context, sessionID snowflake.ID) (*Settlement, error)
	SettleUnsettled(ctx context.Context, limit int) (int, error)

	GetBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
	ListEntries(ctx context.Context, userID snowflake.ID, limit int) ([]LedgerEntry, error)

	PendingMiningReward(ctx context.Context, userID, serverID snowflake.ID) (MiningQuote, error)
	ClaimMiningReward(ctx context.Context, userID, serverID snowflake.ID) (*MiningClaim, error)

	Withdraw(ctx context.Context, req WithdrawRequest) (*Withdrawal, error)
}
