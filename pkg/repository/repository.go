package repository

import (
	"context"

	"gorm.io/gorm"
)

// QueryOption narrows a query built by a Repository.
type QueryOption func(*gorm.DB) *gorm.DB

// Repository is a generic gorm-backed store for simple lookups.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	FindByID(ctx context.Context, id any) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, resource any) error
	Delete(ctx context.Context, resourceID any) error
	Count(ctx context.Context, query *T) (int64, error)
	BatchCreate(ctx context.Context, resources []*T) error
}

func WithOrder(order string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(order) }
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

func WithWhere(query any, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}
