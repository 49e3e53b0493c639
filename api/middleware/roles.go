package middleware

import (
	"net/http"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

// RequireRole admits callers holding one of roles. Fine-grained checks stay
// in the services through auth.Operator.Require.
func RequireRole(logg *logger.Logger, roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := OperatorFromContext(r.Context())
			if op.Role == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if _, ok := allowed[op.Role]; !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
