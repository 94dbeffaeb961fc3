package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/collections_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyMasterId      = appctx.ContextKeyMasterId
	ContextKeyAdminUserId   = appctx.ContextKeyAdminUserId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyIsAdmin       = appctx.ContextKeyIsAdmin
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetMasterIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyMasterId)
}

func GetAdminUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyAdminUserId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetMasterIdInContext(ctx context.Context, masterId string) context.Context {
	return appctx.Set(ctx, ContextKeyMasterId, masterId)
}

func SetAdminUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyAdminUserId, userId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}
