package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Directory is the read boundary to account management.
type Directory interface {
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	GetServer(ctx context.Context, id snowflake.ID) (*Server, error)
	GetCurrentSubscription(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	// GetCurrentSubscriptionForUpdate row-locks the subscription inside tx.
	GetCurrentSubscriptionForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*Subscription, error)
}
