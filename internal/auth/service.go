package auth

import (
	"context"
	"errors"
	"time"

	"github.com/tradesys/exchange/internal/store"
)

// ErrInvalidCredentials is returned by Login when the username is
// unknown or the password doesn't match.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUsernameTaken is returned by Signup on a duplicate username.
var ErrUsernameTaken = errors.New("auth: username already taken")

// TokenPair is the access/refresh token pair spec.md §6 returns from
// both /auth/signup and /auth/login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service handles account creation and authentication, backed by the
// durable store instead of the teacher's in-memory demo user map.
type Service struct {
	store      *store.Store
	jwt        *JWTService
	refreshJWT *JWTService
}

// New builds a Service over store using jwt for access-token issuance.
// Refresh tokens are signed with the same secret but a longer fixed
// lifetime, so a long-lived refresh token can mint a fresh short-lived
// access token without forcing the user to re-enter credentials.
func New(s *store.Store, jwt *JWTService) *Service {
	refreshCfg := jwt.cfg
	refreshCfg.TokenDuration = 7 * 24 * time.Hour
	return &Service{store: s, jwt: jwt, refreshJWT: NewJWTService(refreshCfg)}
}

func (s *Service) issuePair(userID, username, role string) (TokenPair, error) {
	access, err := s.jwt.GenerateToken(userID, username, role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.refreshJWT.GenerateToken(userID, username, role)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ErrInvalidUserType is returned by Signup when user_type is present
// but not one of the known roles.
var ErrInvalidUserType = errors.New("auth: invalid user_type")

// Signup creates a new account and returns a bearer token pair for it.
// userType mirrors original_source's optional user_type signup field;
// an empty string defaults to store.RoleTrader.
func (s *Service) Signup(ctx context.Context, username, password, userType string) (TokenPair, error) {
	if userType != "" && userType != store.RoleTrader && userType != store.RoleAdmin {
		return TokenPair{}, ErrInvalidUserType
	}

	if _, err := s.store.FindUserByUsername(ctx, username); err == nil {
		return TokenPair{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, err
	}

	row, err := store.NewUserRow(username, password, userType)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.CreateUser(ctx, row); err != nil {
		return TokenPair{}, err
	}
	return s.issuePair(row.ID, row.Username, row.Role)
}

// Login verifies credentials and returns a bearer token pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	row, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !row.CheckPassword(password) {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issuePair(row.ID, row.Username, row.Role)
}

// ValidateToken exposes the underlying JWTService for middleware use.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	return s.jwt.ValidateToken(token)
}
