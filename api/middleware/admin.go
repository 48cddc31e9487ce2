package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/shopbot-backend/api/responses"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

// AdminToken guards operator endpoints with a static shared token. An empty
// configured token disables the admin surface entirely.
func AdminToken(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin api disabled"))
				return
			}
			provided := []byte(strings.TrimSpace(r.Header.Get(adminTokenHeader)))
			if len(provided) == 0 {
				responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin token required"))
				return
			}
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				if logg != nil {
					logg.Warn(r.Context(), "admin.token.rejected")
				}
				responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid admin token"))
				return
			}
			ctx := WithActor(r.Context(), ActorAdmin)
			if logg != nil {
				ctx = logg.WithField(ctx, "actor", ActorAdmin)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
