package middleware

import (
	"context"

	"github.com/angelmondragon/auctionhouse-backend/pkg/auth"
)

type contextKey string

const ctxUser contextKey = "authenticated_user"

// WithUser stores the authenticated caller on the context.
func WithUser(ctx context.Context, user auth.AuthenticatedUser) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUser, user)
}

// UserFromContext returns the caller seeded by Auth.
func UserFromContext(ctx context.Context) (auth.AuthenticatedUser, bool) {
	if ctx == nil {
		return auth.AuthenticatedUser{}, false
	}
	user, ok := ctx.Value(ctxUser).(auth.AuthenticatedUser)
	return user, ok
}

func UserIDFromContext(ctx context.Context) string {
	user, ok := UserFromContext(ctx)
	if !ok {
		return ""
	}
	return user.ID.String()
}

func RoleFromContext(ctx context.Context) string {
	user, ok := UserFromContext(ctx)
	if !ok {
		return ""
	}
	return string(user.Role)
}
