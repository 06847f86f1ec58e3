package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"expensio/internal/identity/models"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/httputil"
	"expensio/pkg/requestcontext"
)

// CredentialResolver validates a bearer token and returns the caller it
// belongs to. Resolution consults current user state, not just the token, so
// revoked users and stale role claims are rejected here.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, token string) (models.Identity, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved caller identity in the request context.
func RequireAuth(resolver CredentialResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "missing or invalid Authorization header"))
				return
			}

			ident, err := resolver.ResolveCredential(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", requestID,
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "invalid or expired token"))
				return
			}

			ctx = requestcontext.WithIdentity(ctx, requestcontext.CallerIdentity{
				UserID:    ident.UserID.String(),
				CompanyID: ident.CompanyID.String(),
				Role:      string(ident.Role),
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
