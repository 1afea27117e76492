package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SourceType string

const (
	SourceSessionCost        SourceType = "SESSION_COST"
	SourceSessionReward      SourceType = "SESSION_REWARD"
	SourceMiningClaim        SourceType = "MINING_CLAIM"
	SourceWithdrawal         SourceType = "WITHDRAWAL"
	SourceWithdrawalReversal SourceType = "WITHDRAWAL_REVERSAL"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type TokenBalance struct {
	UserID    snowflake.ID    `gorm:"primaryKey" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(38,8);not null;default:0" json:"balance"`
	Version   int64           `gorm:"not null;default:0" json:"-"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TokenBalance) TableName() string { return "token_balances" }

// LedgerEntry is the record of one balance movement. The unique source key
// makes each source event move a balance at most once.
type LedgerEntry struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_token_ledger_source,priority:1" json:"user_id"`
	SourceType SourceType      `gorm:"type:text;not null;uniqueIndex:ux_token_ledger_source,priority:2" json:"source_type"`
	SourceID   string          `gorm:"type:text;not null;uniqueIndex:ux_token_ledger_source,priority:3" json:"source_id"`
	Direction  Direction       `gorm:"type:text;not null" json:"direction"`
	Amount     decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"amount"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "token_ledger_entries" }

type MiningState struct {
	UserID        snowflake.ID `gorm:"primaryKey"`
	ServerID      snowflake.ID `gorm:"primaryKey"`
	LastClaimedAt time.Time    `gorm:"not null"`
}

func (MiningState) TableName() string { return "mining_states" }

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

type Withdrawal struct {
	ID            snowflake.ID     `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID     `gorm:"not null;index" json:"user_id"`
	Address       string           `gorm:"type:text;not null" json:"address"`
	Amount        decimal.Decimal  `gorm:"type:numeric(38,8);not null" json:"amount"`
	Status        WithdrawalStatus `gorm:"type:text;not null" json:"status"`
	TxHash        *string          `gorm:"type:text" json:"tx_hash,omitempty"`
	FailureReason *string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Withdrawal) TableName() string { return "token_withdrawals" }
