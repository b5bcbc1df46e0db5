package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/handlers/middleware"
	"github.com/nkiryanov/jwtrefresh/internal/logger"
	"github.com/nkiryanov/jwtrefresh/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	tokenService tokenService,
	userService userService,
	authenticator authenticator,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authenticator)

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(userService, tokenService, logger))
	apiauth.Handle("POST /login", handleLogin(userService, tokenService, logger))
	apiauth.Handle("POST /refresh", handleRefresh(tokenService, logger))
	apiauth.Handle("POST /revoke", handleRevoke(tokenService, logger))

	apiauth.Handle("POST /logout", withAuth(handleLogout(tokenService, logger)))
	apiauth.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
		middleware.UserCacheMiddleware,
	)

	return handler
}

type tokenService interface {
	// Issue new token pair for the user
	IssuePair(ctx context.Context, user models.User) (models.TokenPair, error)

	// Exchange refresh token for a new pair
	// Has to return apperrors.ErrInvalidToken if token can't be used
	Rotate(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke single refresh token
	// Has to return apperrors.ErrInvalidToken if token signature or lifetime is not valid
	Revoke(ctx context.Context, refresh string) error

	// Revoke every refresh token of the user
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

type userService interface {
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	CreateUser(ctx context.Context, username string, password string) (models.User, error)

	// Has to return apperrors.ErrUserNotFound if user not found or password not matched
	Login(ctx context.Context, username string, password string) (models.User, error)
}

type authenticator interface {
	Authenticate(r *http.Request) (*models.User, error)
}
