package middleware

import (
	"net/http"

	"github.com/nkiryanov/jwtrefresh/internal/handlers/render"
	"github.com/nkiryanov/jwtrefresh/internal/handlers/userctx"
	"github.com/nkiryanov/jwtrefresh/internal/models"
	"github.com/nkiryanov/jwtrefresh/internal/service/auth"
)

type authenticator interface {
	// nil user without error means request is not authenticated
	Authenticate(r *http.Request) (*models.User, error)
}

func AuthMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r)
			switch {
			case err != nil:
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			case user == nil:
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), *user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Let authenticated user be resolved once per request
func UserCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithUserCache(r.Context())))
	})
}
