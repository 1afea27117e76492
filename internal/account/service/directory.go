package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/smallbiznis/vpnledger/pkg/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type Directory struct {
	db      *gorm.DB
	users   repository.Repository[accountdomain.User]
	servers repository.Repository[accountdomain.Server]
}

func NewDirectory(p Params) accountdomain.Directory {
	return &Directory{
		db:      p.DB,
		users:   repository.ProvideStore[accountdomain.User](p.DB),
		servers: repository.ProvideStore[accountdomain.Server](p.DB),
	}
}

func (d *Directory) GetUser(ctx context.Context, id snowflake.ID) (*accountdomain.User, error) {
	user, err := d.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domainerr.NotFound("user", id)
	}
	return user, nil
}

func (d *Directory) GetServer(ctx context.Context, id snowflake.ID) (*accountdomain.Server, error) {
	server, err := d.servers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, domainerr.NotFound("server", id)
	}
	return server, nil
}

func (d *Directory) GetCurrentSubscription(ctx context.Context, userID snowflake.ID) (*accountdomain.Subscription, error) {
	return d.currentSubscription(ctx, d.db, userID, false)
}

func (d *Directory) GetCurrentSubscriptionForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*accountdomain.Subscription, error) {
	return d.currentSubscription(ctx, tx, userID, true)
}

// currentSubscription picks the most recently started subscription. Status is
// not filtered here so callers can report an expired subscription.
func (d *Directory) currentSubscription(ctx context.Context, conn *gorm.DB, userID snowflake.ID, forUpdate bool) (*accountdomain.Subscription, error) {
	var sub accountdomain.Subscription
	query := conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_date DESC").
		Order("id DESC")
	if forUpdate {
		query = db.ForUpdate(query)
	}
	if err := query.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerr.NotFound("subscription", userID)
		}
		return nil, err
	}
	return &sub, nil
}
