package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_ledger/appctx"
)

func GetBusinessIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyBusinessId)
}

func SetBusinessIdInContext(ctx context.Context, businessId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyBusinessId, businessId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyUserName)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyUserName, userName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

// CorrelationIdOrNew returns the request correlation id, minting one when the caller did not supply it.
func CorrelationIdOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, appctx.ContextKeySkipTenantScope, skip)
}

// NewLedgerContext is the context ledgerctl and tests run operations under.
func NewLedgerContext(parent context.Context, businessId, actor string) context.Context {
	ctx := SetBusinessIdInContext(parent, businessId)
	ctx = SetUserNameInContext(ctx, actor)
	return SetCorrelationIdInContext(ctx, uuid.NewString())
}
