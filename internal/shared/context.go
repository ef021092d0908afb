package shared

import (
	"context"
	"net/http"
	"strings"
)

type userContextKey struct{}

// ContextWithUser stores the authenticated user name in context.
func ContextWithUser(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userName)
}

// UserFromContext extracts the authenticated user name from context.
func UserFromContext(ctx context.Context) (string, bool) {
	user, _ := ctx.Value(userContextKey{}).(string)
	return user, user != ""
}

// IdentityFromHeader returns middleware that trusts header as the caller's
// identity. Authentication happens upstream; requests without the header
// carry no identity and are denied by permission guards.
func IdentityFromHeader(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(header))
			if user == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}
