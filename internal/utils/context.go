package utils

import (
	"context"
)

type contextKey string

const ContextUserIDKey contextKey = "userID"
const ContextUserRoleKey contextKey = "userRole"

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID := ctx.Value(ContextUserIDKey)
	userIDStr, ok := userID.(string)
	return userIDStr, ok
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	role := ctx.Value(ContextUserRoleKey)
	roleStr, ok := role.(string)
	return roleStr, ok
}
