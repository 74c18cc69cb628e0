// Package auth manages operator accounts and their bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/pkg/crypto"
	jwtpkg "github.com/splax/pagesmith/pkg/jwt"
)

var (
	ErrInvalidEmail       = errors.New("auth: invalid email")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrUnauthorized       = errors.New("auth: unauthorized")
)

// Service handles authentication workflows.
type Service struct {
	users    repository.UserRepository
	logger   *slog.Logger
	secret   string
	tokenTTL time.Duration
	now      func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, secret string, tokenTTL time.Duration) Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return Service{users: users, logger: logger, secret: secret, tokenTTL: tokenTTL, now: time.Now}
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Signup registers a new operator.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, Token{}, err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, Token{}, ErrEmailTaken
		}
		return nil, Token{}, fmt.Errorf("create user: %w", err)
	}
	token, err := s.issue(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates an operator and returns a token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, Token{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("login rejected", "user_id", user.ID)
		return nil, Token{}, ErrInvalidCredentials
	}
	token, err := s.issue(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issue(user *domain.User) (Token, error) {
	now := s.now()
	access, err := jwtpkg.GenerateToken(user.ID, user.Email, s.secret, s.tokenTTL, now)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: access, ExpiresAt: now.Add(s.tokenTTL).UTC()}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
