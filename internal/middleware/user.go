package middleware

import "context"

type userHolderKey struct{}

type userHolder struct {
	userID string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}

// RecordUser makes userID visible to the request log line written by
// LoggingMiddleware. It is a no-op outside that middleware.
func RecordUser(ctx context.Context, userID string) {
	if h, ok := ctx.Value(userHolderKey{}).(*userHolder); ok {
		h.userID = userID
	}
}
