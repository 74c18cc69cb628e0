package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/pkg/crypto"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]*domain.User)}
}

func (m *memoryUsers) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func newTestService(users *memoryUsers) Service {
	return New(users, slog.New(slog.NewTextHandler(io.Discard, nil)), "test-secret", time.Hour)
}

func TestSignupLoginAuthorize(t *testing.T) {
	users := newMemoryUsers()
	svc := newTestService(users)
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, "  Ops@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "ops@example.com" || token.AccessToken == "" {
		t.Fatalf("unexpected signup result %+v %+v", user, token)
	}

	_, login, err := svc.Login(ctx, "ops@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	authed, claims, err := svc.Authorize(ctx, "  "+login.AccessToken)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if authed.ID != user.ID || claims.UserID != user.ID {
		t.Fatalf("authorized wrong user %s", authed.ID)
	}
}

func TestSignupRejections(t *testing.T) {
	users := newMemoryUsers()
	svc := newTestService(users)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "not-an-email", "correct horse"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, _, err := svc.Signup(ctx, "ops@example.com", "short"); !errors.Is(err, crypto.ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if _, _, err := svc.Signup(ctx, "ops@example.com", "correct horse"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := svc.Signup(ctx, "OPS@example.com", "another password"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestLoginRejections(t *testing.T) {
	users := newMemoryUsers()
	svc := newTestService(users)
	ctx := context.Background()
	if _, _, err := svc.Signup(ctx, "ops@example.com", "correct horse"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, _, err := svc.Login(ctx, "ops@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	users := newMemoryUsers()
	svc := newTestService(users)
	ctx := context.Background()

	if _, _, err := svc.Authorize(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty token, got %v", err)
	}
	if _, _, err := svc.Authorize(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for garbage, got %v", err)
	}

	_, token, err := svc.Signup(ctx, "ops@example.com", "correct horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	other := New(users, svc.logger, "other-secret", time.Hour)
	if _, _, err := other.Authorize(ctx, token.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signature, got %v", err)
	}

	users.mu.Lock()
	users.users = map[string]*domain.User{}
	users.mu.Unlock()
	if _, _, err := svc.Authorize(ctx, token.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for deleted user, got %v", err)
	}
}
