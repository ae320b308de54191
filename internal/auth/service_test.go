package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/config"
	pkgmodels "github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
	"github.com/covercheck/covercheck-backend/pkg/security"
)

type stubLoginUserRepo struct {
	users       map[string]*pkgmodels.User
	lastLoginID uuid.UUID
}

func (s *stubLoginUserRepo) FindByEmail(ctx context.Context, email string) (*pkgmodels.User, error) {
	return s.users[email], nil
}

func (s *stubLoginUserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.lastLoginID = id
	return nil
}

type stubSessionManager struct {
	lastAccessID string
}

func (s *stubSessionManager) Generate(ctx context.Context, accessID string) (string, error) {
	s.lastAccessID = accessID
	return "refresh-token", nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "covercheck-test",
		ExpirationMinutes: 15,
	}
}

func seedUser(t *testing.T, repo *stubLoginUserRepo, email, password string, role enums.UserRole, active bool) *pkgmodels.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &pkgmodels.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
	}
	repo.users[email] = user
	return user
}

func newLoginSetup(t *testing.T) (*stubLoginUserRepo, *stubSessionManager, Service) {
	t.Helper()
	repo := &stubLoginUserRepo{users: map[string]*pkgmodels.User{}}
	sessions := &stubSessionManager{}
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: sessions,
		JWTConfig:      testJWTConfig(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return repo, sessions, svc
}

func TestLoginIssuesTokens(t *testing.T) {
	repo, sessions, svc := newLoginSetup(t)
	user := seedUser(t, repo, "jamie@example.com", "Secret123!", enums.UserRoleCustomer, true)

	resp, err := svc.Login(context.Background(), LoginRequest{Email: "Jamie@Example.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if resp.User == nil || resp.User.ID != user.ID {
		t.Fatal("expected user in response")
	}
	if repo.lastLoginID != user.ID {
		t.Fatal("expected last login to be recorded")
	}
	if sessions.lastAccessID == "" {
		t.Fatal("expected session keyed on access id")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	repo, _, svc := newLoginSetup(t)
	seedUser(t, repo, "jamie@example.com", "Secret123!", enums.UserRoleCustomer, true)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "jamie@example.com", Password: "wrong"})
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	_, _, svc := newLoginSetup(t)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "Secret123!"})
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	repo, _, svc := newLoginSetup(t)
	seedUser(t, repo, "jamie@example.com", "Secret123!", enums.UserRoleCustomer, false)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "jamie@example.com", Password: "Secret123!"})
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAdminLoginRejectsCustomers(t *testing.T) {
	repo, _, svc := newLoginSetup(t)
	seedUser(t, repo, "jamie@example.com", "Secret123!", enums.UserRoleCustomer, true)

	_, err := svc.AdminLogin(context.Background(), LoginRequest{Email: "jamie@example.com", Password: "Secret123!"})
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAdminLoginAcceptsAdmins(t *testing.T) {
	repo, _, svc := newLoginSetup(t)
	seedUser(t, repo, "ops@example.com", "Secret123!", enums.UserRoleAdmin, true)

	resp, err := svc.AdminLogin(context.Background(), LoginRequest{Email: "ops@example.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if resp.User.Role != enums.UserRoleAdmin {
		t.Fatalf("expected admin role, got %q", resp.User.Role)
	}
}
