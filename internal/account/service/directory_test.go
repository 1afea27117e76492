package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/stretchr/testify/require"
)

func TestDirectoryLookups(t *testing.T) {
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&accountdomain.User{}, &accountdomain.Server{}, &accountdomain.Subscription{}))

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&accountdomain.User{ID: 1, Email: "a@example.com"}).Error)
	require.NoError(t, conn.Create(&accountdomain.Server{ID: 10, Name: "sg-1", OperatorUserID: 2}).Error)
	require.NoError(t, conn.Create(&accountdomain.Subscription{
		ID: 100, UserID: 1, Status: accountdomain.SubscriptionStatusExpired, StartDate: now.AddDate(0, -2, 0),
	}).Error)
	require.NoError(t, conn.Create(&accountdomain.Subscription{
		ID: 101, UserID: 1, Status: accountdomain.SubscriptionStatusActive, StartDate: now.AddDate(0, -1, 0),
	}).Error)

	dir := NewDirectory(Params{DB: conn})
	ctx := context.Background()

	user, err := dir.GetUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", user.Email)

	_, err = dir.GetUser(ctx, 2)
	require.ErrorIs(t, err, domainerr.ErrNotFound)

	server, err := dir.GetServer(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(2), server.OperatorUserID)

	sub, err := dir.GetCurrentSubscription(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(101), sub.ID)
	require.True(t, sub.IsCurrent(now))

	_, err = dir.GetCurrentSubscription(ctx, 99)
	require.ErrorIs(t, err, domainerr.ErrNotFound)
}
