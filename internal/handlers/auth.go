package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/handlers/render"
	"github.com/nkiryanov/jwtrefresh/internal/handlers/userctx"
	"github.com/nkiryanov/jwtrefresh/internal/logger"
	"github.com/nkiryanov/jwtrefresh/internal/models"
)

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Write token pair as json and access token as Authorization header
func renderTokenPair(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set("Authorization", "Bearer "+pair.Access.Value)
	render.JSON(w, tokenPairResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	})
}

func handleRegister(userService userService, tokenService tokenService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := userService.CreateUser(r.Context(), data.Login, data.Password)
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
			return
		case err != nil:
			logger.Error("Failed to create user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		pair, err := tokenService.IssuePair(r.Context(), user)
		if err != nil {
			logger.Error("Failed to issue token pair", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		renderTokenPair(w, pair)
	})
}

func handleLogin(userService userService, tokenService tokenService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := userService.Login(r.Context(), data.Login, data.Password)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Invalid login or password", http.StatusUnauthorized)
			return
		case err != nil:
			logger.Error("Failed to login user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		pair, err := tokenService.IssuePair(r.Context(), user)
		if err != nil {
			logger.Error("Failed to issue token pair", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		renderTokenPair(w, pair)
	})
}

func handleRefresh(tokenService tokenService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		pair, err := tokenService.Rotate(r.Context(), data.RefreshToken)
		switch {
		case errors.Is(err, apperrors.ErrInvalidToken):
			logger.Debug("Refresh token rejected", "error", err)
			render.ServiceError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		case err != nil:
			logger.Error("Failed to rotate refresh token", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		renderTokenPair(w, pair)
	})
}

func handleRevoke(tokenService tokenService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		err = tokenService.Revoke(r.Context(), data.RefreshToken)
		switch {
		case errors.Is(err, apperrors.ErrInvalidToken):
			render.ServiceError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		case err != nil:
			logger.Error("Failed to revoke refresh token", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// Logout everywhere: every refresh token of the user is revoked
func handleLogout(tokenService tokenService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		if err := tokenService.RevokeAll(r.Context(), user.ID); err != nil {
			logger.Error("Failed to revoke refresh tokens", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
