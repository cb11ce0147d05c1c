package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background is a Context with no transaction bound.
func Background() Context {
	return Context{Ctx: context.Background()}
}

// With returns a Context carrying ctx and no transaction.
func With(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

// DB returns the bound transaction, or fallback when none is set, scoped to the
// context.
func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	transaction := c.Tx
	if transaction == nil {
		transaction = fallback
	}
	if c.Ctx != nil {
		return transaction.WithContext(c.Ctx)
	}
	return transaction
}
