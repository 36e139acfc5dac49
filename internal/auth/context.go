package auth

import "context"

type contextKey string

const authContextKey contextKey = "walle_auth"

// AuthInfo identifies the service token that authenticated a request.
type AuthInfo struct {
	TokenID string
	Name    string
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
