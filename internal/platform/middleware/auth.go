package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"authconsent/internal/auth"
	"authconsent/pkg/requestcontext"
)

// IdentityResolver resolves a bearer credential to a caller identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (auth.ClientIdentity, error)
}

type contextKeyIdentity struct{}

// GetIdentity retrieves the authenticated caller from the context. The bool is
// false when RequireAuth did not run (or rejected the request).
func GetIdentity(ctx context.Context) (auth.ClientIdentity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity{}).(auth.ClientIdentity)
	return identity, ok
}

// WithIdentity injects a caller identity into a context. Useful for handler
// tests that bypass the middleware chain.
func WithIdentity(ctx context.Context, identity auth.ClientIdentity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, identity)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved identity in the request context.
func RequireAuth(resolver IdentityResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}

			identity, err := resolver.Resolve(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.CorrelationID(ctx),
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Invalid or expired token"}}`))
}
