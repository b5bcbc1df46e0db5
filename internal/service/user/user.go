package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/models"
	"github.com/nkiryanov/jwtrefresh/internal/repository"
)

type UserService struct {
	hasher   PasswordHasher
	userRepo repository.UserRepo
}

func NewService(hasher PasswordHasher, userRepo repository.UserRepo) *UserService {
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &UserService{
		hasher:   hasher,
		userRepo: userRepo,
	}
}

func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User
	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.userRepo.CreateUser(ctx, username, hash)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Check credentials. Unknown user and wrong password are both apperrors.ErrUserNotFound
func (s *UserService) Login(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, apperrors.ErrUserNotFound
	case err != nil:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}
