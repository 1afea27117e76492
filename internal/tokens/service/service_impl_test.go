package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	accountservice "github.com/smallbiznis/vpnledger/internal/account/service"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	sessionrepo "github.com/smallbiznis/vpnledger/internal/session/repository"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/repository"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type chainMock struct {
	mock.Mock
}

func (m *chainMock) TransferTokens(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, address, amount)
	return args.String(0), args.Error(1)
}

type fixture struct {
	conn  *gorm.DB
	clock *clock.FakeClock
	svc   *Service
	chain *chainMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&accountdomain.User{},
		&accountdomain.Server{},
		&sessiondomain.Session{},
		&tokendomain.TokenBalance{},
		&tokendomain.LedgerEntry{},
		&tokendomain.MiningState{},
		&tokendomain.Withdrawal{},
	))
	require.NoError(t, conn.Create(&accountdomain.User{ID: 1, Email: "user@example.com"}).Error)
	require.NoError(t, conn.Create(&accountdomain.User{ID: 2, Email: "operator@example.com"}).Error)
	require.NoError(t, conn.Create(&accountdomain.Server{
		ID: 10, Name: "sg-1", OperatorUserID: 2, MiningRate: decimal.RequireFromString("0.5"),
	}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	tokenomics, err := config.NewStaticTokenomics(config.DefaultTokenomics())
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	chain := &chainMock{}

	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Tokenomics: tokenomics,
		Repo:       repository.Provide(),
		Sessions:   sessionrepo.Provide(),
		Directory:  accountservice.NewDirectory(accountservice.Params{DB: conn}),
		Chain:      chain,
	}).(*Service)
	return &fixture{conn: conn, clock: fake, svc: svc, chain: chain}
}

func fp(v float64) *float64 { return &v }

func (f *fixture) endedSession(t *testing.T, id snowflake.ID, bytes int64, duration time.Duration) {
	t.Helper()
	ended := f.clock.Now().Add(-time.Minute)
	require.NoError(t, f.conn.Create(&sessiondomain.Session{
		ID:                   id,
		UserID:               1,
		ServerID:             10,
		StartedAt:            ended.Add(-duration),
		EndedAt:              &ended,
		DataTransferredBytes: bytes,
		BytesReceived:        bytes,
		CPUUsage:             fp(20),
		MemoryUsage:          fp(40),
		NetworkSpeed:         fp(500),
	}).Error)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(8))
}

func TestSettleSessionDebitsConsumerAndCreditsOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.endedSession(t, 100, 1_073_741_824, 30*time.Minute)

	settlement, err := f.svc.SettleSession(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	requireDecimal(t, "0.10000000", settlement.Cost)
	requireDecimal(t, "0.31666667", settlement.Reward)

	consumer, err := f.svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	requireDecimal(t, "-0.10000000", consumer)
	operator, err := f.svc.GetBalance(ctx, 2)
	require.NoError(t, err)
	requireDecimal(t, "0.31666667", operator)

	var session sessiondomain.Session
	require.NoError(t, f.conn.First(&session, "id = ?", 100).Error)
	require.NotNil(t, session.SettledAt)
	requireDecimal(t, "0.10000000", session.TokensCost)
	requireDecimal(t, "0.31666667", session.TokensEarned)

	again, err := f.svc.SettleSession(ctx, 100)
	require.NoError(t, err)
	require.Nil(t, again)
	require.NoError(t, NewSettlementHandler(f.svc).OnSessionClosed(ctx, session))

	consumer, err = f.svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	requireDecimal(t, "-0.10000000", consumer)

	entries, err := f.svc.ListEntries(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, tokendomain.SourceSessionCost, entries[0].SourceType)
}

func TestSettleSessionSkipsActiveAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Create(&sessiondomain.Session{ID: 200, UserID: 1, ServerID: 10, StartedAt: f.clock.Now()}).Error)

	settlement, err := f.svc.SettleSession(ctx, 200)
	require.NoError(t, err)
	require.Nil(t, settlement)

	_, err = f.svc.SettleSession(ctx, 999)
	require.ErrorIs(t, err, domainerr.ErrNotFound)
}

func TestSettleUnsettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.endedSession(t, 300, 1<<30, time.Hour)
	f.endedSession(t, 301, 2<<30, time.Hour)

	settled, err := f.svc.SettleUnsettled(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, settled)

	settled, err = f.svc.SettleUnsettled(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, settled)

	consumer, err := f.svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	requireDecimal(t, "-0.30000000", consumer)
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	f := newFixture(t)
	balance, err := f.svc.GetBalance(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestMiningRewardClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClaimMiningReward(ctx, 1, 10)
	require.ErrorIs(t, err, tokendomain.ErrNoActiveSession)

	require.NoError(t, f.conn.Create(&sessiondomain.Session{
		ID: 400, UserID: 1, ServerID: 10, StartedAt: f.clock.Now().Add(-3 * time.Hour),
	}).Error)

	quote, err := f.svc.PendingMiningReward(ctx, 1, 10)
	require.NoError(t, err)
	requireDecimal(t, "1.50000000", quote.Amount)

	claim, err := f.svc.ClaimMiningReward(ctx, 1, 10)
	require.NoError(t, err)
	requireDecimal(t, "1.50000000", claim.Amount)
	requireDecimal(t, "1.50000000", claim.Balance)

	quote, err = f.svc.PendingMiningReward(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, quote.Amount.IsZero())

	f.clock.Advance(30 * 24 * time.Hour)
	quote, err = f.svc.PendingMiningReward(ctx, 1, 10)
	require.NoError(t, err)
	requireDecimal(t, "12.00000000", quote.Amount)
}

func TestWithdrawSuccessAndInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Create(&tokendomain.TokenBalance{UserID: 1, Balance: decimal.NewFromInt(10)}).Error)

	f.chain.On("TransferTokens", mock.Anything, "0xabc", mock.MatchedBy(func(a decimal.Decimal) bool {
		return a.Equal(decimal.NewFromInt(4))
	})).Return("0xhash", nil).Once()

	w, err := f.svc.Withdraw(ctx, tokendomain.WithdrawRequest{UserID: 1, Address: "0xabc", Amount: decimal.NewFromInt(4)})
	require.NoError(t, err)
	require.Equal(t, tokendomain.WithdrawalCompleted, w.Status)
	require.Equal(t, "0xhash", *w.TxHash)

	balance, err := f.svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	requireDecimal(t, "6.00000000", balance)

	_, err = f.svc.Withdraw(ctx, tokendomain.WithdrawRequest{UserID: 1, Address: "0xabc", Amount: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, domainerr.ErrInsufficientBalance)

	var count int64
	require.NoError(t, f.conn.Model(&tokendomain.Withdrawal{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	_, err = f.svc.Withdraw(ctx, tokendomain.WithdrawRequest{UserID: 1, Address: " ", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, tokendomain.ErrInvalidAddress)
	f.chain.AssertExpectations(t)
}

func TestWithdrawTransferFailureReverses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Create(&tokendomain.TokenBalance{UserID: 1, Balance: decimal.NewFromInt(10)}).Error)

	f.chain.On("TransferTokens", mock.Anything, "0xabc", mock.Anything).Return("", errors.New("rpc timeout")).Once()

	w, err := f.svc.Withdraw(ctx, tokendomain.WithdrawRequest{UserID: 1, Address: "0xabc", Amount: decimal.NewFromInt(3)})
	require.ErrorIs(t, err, domainerr.ErrPaymentFailed)
	require.NotNil(t, w)
	require.Equal(t, tokendomain.WithdrawalFailed, w.Status)

	balance, err := f.svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	requireDecimal(t, "10.00000000", balance)

	var stored tokendomain.Withdrawal
	require.NoError(t, f.conn.First(&stored, "id = ?", w.ID).Error)
	require.Equal(t, tokendomain.WithdrawalFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	f.chain.AssertExpectations(t)
}
