// Package memory keeps users and the refresh token ledger in process memory.
// It is used when no database is configured and by service tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/models"
	"github.com/nkiryanov/jwtrefresh/internal/repository"
)

type state struct {
	users   map[uuid.UUID]models.User
	tokens  map[string]models.RefreshToken
	tokenID int64

	// Bumped on every DeleteAll of the user
	revocations map[uuid.UUID]int64
}

type Storage struct {
	mu    *sync.Mutex
	txMu  *sync.Mutex
	state *state
	now   func() time.Time

	// Undo log of the running unit of work, nil outside of it
	undo *[]func()
}

func NewStorage() *Storage {
	return &Storage{
		mu:   &sync.Mutex{},
		txMu: &sync.Mutex{},
		state: &state{
			users:       make(map[uuid.UUID]models.User),
			tokens:      make(map[string]models.RefreshToken),
			revocations: make(map[uuid.UUID]int64),
		},
		now: time.Now,
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

// Units of work are serialized. When fn fails only changes made through tx are undone,
// in reverse order; writes made outside the unit of work meanwhile are kept
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if s.undo != nil {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := *s
	tx.undo = &[]func(){}

	if err := fn(&tx); err != nil {
		s.mu.Lock()
		for i := len(*tx.undo) - 1; i >= 0; i-- {
			(*tx.undo)[i]()
		}
		s.mu.Unlock()
		return err
	}

	return nil
}

// Must be called with mu held
func (s *Storage) record(undo func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, undo)
	}
}

// Must be called with mu held
// Deleted record comes back on rollback unless the owner was revoked since
func (s *Storage) deleteToken(token models.RefreshToken) {
	delete(s.state.tokens, token.JTI)

	revision := s.state.revocations[token.UserID]
	s.record(func() {
		if s.state.revocations[token.UserID] == revision {
			s.state.tokens[token.JTI] = token
		}
	})
}

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(_ context.Context, username string, hashedPassword string) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.Username == username {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      r.s.now(),
		Username:       username,
		HashedPassword: hashedPassword,
	}
	r.s.state.users[user.ID] = user
	r.s.record(func() { delete(r.s.state.users, user.ID) })

	return user, nil
}

func (r *UserRepo) GetUserByID(_ context.Context, userID uuid.UUID) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.state.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return user, nil
}

func (r *UserRepo) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, apperrors.ErrUserNotFound
}

type RefreshTokenRepo struct {
	s *Storage
}

// Unlike postgres users are not checked: ledger may be used with any user store
func (r *RefreshTokenRepo) Create(_ context.Context, userID uuid.UUID) (models.RefreshToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generating jti. Err: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.state.tokens[jti.String()]; ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	}

	r.s.state.tokenID++
	token := models.RefreshToken{
		ID:        r.s.state.tokenID,
		UserID:    userID,
		JTI:       jti.String(),
		CreatedAt: r.s.now(),
	}
	r.s.state.tokens[token.JTI] = token
	r.s.record(func() { delete(r.s.state.tokens, token.JTI) })

	return token, nil
}

func (r *RefreshTokenRepo) Exists(_ context.Context, jti string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, ok := r.s.state.tokens[jti]
	return ok, nil
}

func (r *RefreshTokenRepo) OwnerOf(_ context.Context, jti string) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.state.tokens[jti]
	if !ok {
		return uuid.Nil, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return token.UserID, nil
}

func (r *RefreshTokenRepo) Delete(_ context.Context, jti string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if token, ok := r.s.state.tokens[jti]; ok {
		r.s.deleteToken(token)
	}
	return nil
}

func (r *RefreshTokenRepo) Consume(_ context.Context, jti string) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.state.tokens[jti]
	if !ok {
		return uuid.Nil, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	r.s.deleteToken(token)

	return token.UserID, nil
}

func (r *RefreshTokenRepo) DeleteAll(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.state.revocations[userID]++
	r.s.record(func() { r.s.state.revocations[userID]-- })

	var deleted int64
	for _, token := range r.s.state.tokens {
		if token.UserID == userID {
			r.s.deleteToken(token)
			deleted++
		}
	}
	return deleted, nil
}

func (r *RefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var deleted int64
	for _, token := range r.s.state.tokens {
		if token.CreatedAt.Before(before) {
			r.s.deleteToken(token)
			deleted++
		}
	}
	return deleted, nil
}
