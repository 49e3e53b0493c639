package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	pkgAuth "github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

// Auth validates the bearer token and seeds the request context with the
// operator built from its claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			op := pkgAuth.OperatorFromClaims(claims)
			ctx := WithOperator(r.Context(), op)
			if logg != nil {
				ctx = logg.WithOperator(ctx, op.ID.String(), string(op.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
