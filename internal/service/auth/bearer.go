package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/models"
	"github.com/nkiryanov/jwtrefresh/internal/service/auth/codec"
)

// Resolve request to the user it was made by
// nil user with nil error means request is not authenticated
type Authenticator interface {
	Authenticate(r *http.Request) (*models.User, error)
}

type accessValidator interface {
	ValidateAccess(token string) (codec.Claims, bool)
}

type userGetter interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
}

// Authenticate requests by 'Authorization: Bearer <access token>' header
type BearerAuthenticator struct {
	tokens accessValidator
	users  userGetter
}

var _ Authenticator = (*BearerAuthenticator)(nil)

func NewBearerAuthenticator(tokens accessValidator, users userGetter) *BearerAuthenticator {
	return &BearerAuthenticator{
		tokens: tokens,
		users:  users,
	}
}

// User is resolved once per request if context has slot installed by WithUserCache
func (a *BearerAuthenticator) Authenticate(r *http.Request) (*models.User, error) {
	return resolveUser(r.Context(), func() (*models.User, error) {
		return a.authenticate(r)
	})
}

func (a *BearerAuthenticator) authenticate(r *http.Request) (*models.User, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}

	claims, ok := a.tokens.ValidateAccess(token)
	if !ok || claims.Subject == "" {
		return nil, nil
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil
	}

	user, err := a.users.GetUserByID(r.Context(), userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return &user, nil
}

// Extract token from 'Bearer <token>'. Scheme is case insensitive
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
