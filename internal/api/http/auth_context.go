package httpapi

import "context"

type authContextKey string

const ownerKey authContextKey = "ownerID"

func withOwner(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey, ownerID)
}

func ownerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}
