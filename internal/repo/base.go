package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is the connection a repository reads and writes through. Repositories
// embed it and rebind it per transaction with Bind.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a Base that runs on tx, or b unchanged when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the connection scoped to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// First loads the first row matching query into dest.
func (b Base) First(ctx context.Context, dest any, query any, args ...any) error {
	return b.DB(ctx).Where(query, args...).First(dest).Error
}
