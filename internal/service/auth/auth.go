package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/logger"
	"github.com/nkiryanov/jwtrefresh/internal/models"
	"github.com/nkiryanov/jwtrefresh/internal/repository"
	"github.com/nkiryanov/jwtrefresh/internal/service/auth/codec"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type Config struct {
	// Keys to sign access and refresh tokens
	// Both required and must differ
	AccessSecret  string
	RefreshSecret string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock. time.Now if nil
	Now func() time.Time
}

// Auth service: issues token pairs, validates and rotates refresh tokens
type Service struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	codec   *codec.Codec
	storage repository.Storage
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) (*Service, error) {
	switch {
	case cfg.AccessSecret == "" || cfg.RefreshSecret == "":
		return nil, errors.New("access and refresh secrets must not be empty")
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, errors.New("access and refresh secrets must differ")
	case cfg.AccessTTL < 0 || cfg.RefreshTTL < 0:
		return nil, errors.New("token lifetimes must not be negative")
	case storage == nil:
		return nil, errors.New("storage must not be nil")
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		codec:      codec.New(cfg.Now),
		storage:    storage,
		logger:     l,
	}, nil
}

// Issue access token and refresh token registered in the ledger
func (s *Service) IssuePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	pair, _, err := s.issuePair(ctx, s.storage, user.ID)
	return pair, err
}

// Returns the pair and jti of the new ledger record
func (s *Service) issuePair(ctx context.Context, storage repository.Storage, userID uuid.UUID) (models.TokenPair, string, error) {
	if userID == uuid.Nil {
		return models.TokenPair{}, "", errors.New("user id must be set")
	}
	subject := userID.String()

	access, accessClaims, err := s.codec.Issue(subject, s.accessTTL, s.accessKey, "")
	if err != nil {
		return models.TokenPair{}, "", fmt.Errorf("error while signing access token. Err: %w", err)
	}

	record, err := storage.Refresh().Create(ctx, userID)
	if err != nil {
		return models.TokenPair{}, "", fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	refresh, refreshClaims, err := s.codec.Issue(subject, s.refreshTTL, s.refreshKey, record.JTI)
	if err != nil {
		s.discard(ctx, storage, record.JTI)
		return models.TokenPair{}, "", fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessClaims.ExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshClaims.ExpiresAt},
	}, record.JTI, nil
}

// Verify access token. Ledger is not touched
func (s *Service) ValidateAccess(token string) (codec.Claims, bool) {
	return s.codec.Verify(token, s.accessKey)
}

// Verify refresh token and check its jti is live
// Fails with apperrors.ErrInvalidToken if token can't be used
func (s *Service) ValidateRefresh(ctx context.Context, token string) (codec.Claims, error) {
	return s.validateRefresh(ctx, s.storage, token)
}

func (s *Service) validateRefresh(ctx context.Context, storage repository.Storage, token string) (codec.Claims, error) {
	claims, ok := s.codec.Verify(token, s.refreshKey)
	if !ok {
		return codec.Claims{}, fmt.Errorf("%w: signature or lifetime check failed", apperrors.ErrInvalidToken)
	}
	if claims.ID == "" {
		return codec.Claims{}, fmt.Errorf("%w: jti missing", apperrors.ErrInvalidToken)
	}

	exists, err := storage.Refresh().Exists(ctx, claims.ID)
	if err != nil {
		return codec.Claims{}, fmt.Errorf("error while checking refresh token. Err: %w", err)
	}
	if !exists {
		return codec.Claims{}, fmt.Errorf("%w: token consumed or revoked", apperrors.ErrInvalidToken)
	}

	return claims, nil
}

// Exchange refresh token for a new pair. Old token can't be used again
//
// New record is created before old one is consumed. Only the caller that
// consumes the old record gets the pair; the others get ErrInvalidToken
func (s *Service) Rotate(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		claims, err := s.validateRefresh(ctx, storage, refresh)
		if err != nil {
			return err
		}

		owner, err := storage.Refresh().OwnerOf(ctx, claims.ID)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return fmt.Errorf("%w: token consumed or revoked", apperrors.ErrInvalidToken)
		case err != nil:
			return fmt.Errorf("error while resolving token owner. Err: %w", err)
		case owner.String() != claims.Subject:
			return fmt.Errorf("%w: subject mismatch", apperrors.ErrInvalidToken)
		}

		var newJTI string
		pair, newJTI, err = s.issuePair(ctx, storage, owner)
		if err != nil {
			return err
		}

		_, err = storage.Refresh().Consume(ctx, claims.ID)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			s.logger.Warn("Refresh token consumed concurrently", "jti", claims.ID, "user_id", owner)
			s.discard(ctx, storage, newJTI)
			return fmt.Errorf("%w: token consumed or revoked", apperrors.ErrInvalidToken)
		case err != nil:
			s.discard(ctx, storage, newJTI)
			return fmt.Errorf("error while consuming refresh token. Err: %w", err)
		}

		return nil
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Revoke single refresh token. Revoking consumed token is not an error
func (s *Service) Revoke(ctx context.Context, refresh string) error {
	claims, ok := s.codec.Verify(refresh, s.refreshKey)
	if !ok || claims.ID == "" {
		return fmt.Errorf("%w: signature or lifetime check failed", apperrors.ErrInvalidToken)
	}

	if err := s.storage.Refresh().Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

// Revoke every refresh token of the user
func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	deleted, err := s.storage.Refresh().DeleteAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("error while revoking refresh tokens. Err: %w", err)
	}

	s.logger.Debug("Refresh tokens revoked", "user_id", userID, "count", deleted)
	return nil
}

// Best effort removal of a record that won't be handed out
func (s *Service) discard(ctx context.Context, storage repository.Storage, jti string) {
	if jti == "" {
		return
	}
	if err := storage.Refresh().Delete(ctx, jti); err != nil {
		s.logger.Error("Failed to discard refresh token", "jti", jti, "error", err)
	}
}
