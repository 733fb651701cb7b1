package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Stores that are not SQL-backed only look at Ctx.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func Background() Context { return Context{Ctx: context.Background()} }

func From(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}
