package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/covercheck/covercheck-backend/pkg/auth"
	"github.com/covercheck/covercheck-backend/pkg/auth/session"
	"github.com/covercheck/covercheck-backend/pkg/config"
	"github.com/covercheck/covercheck-backend/pkg/enums"
)

type stubRotator struct {
	rotateAccessID  string
	rotateRefresh   string
	rotateErr       error
	lastOldAccessID string
	lastProvided    string
	revokedIDs      []string
	revokeErr       error
}

func (s *stubRotator) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error) {
	s.lastOldAccessID = oldAccessID
	s.lastProvided = provided
	return s.rotateAccessID, s.rotateRefresh, s.rotateErr
}

func (s *stubRotator) Revoke(ctx context.Context, accessID string) error {
	s.revokedIDs = append(s.revokedIDs, accessID)
	return s.revokeErr
}

func sessionJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "session-test-secret",
		Issuer:            "covercheck-test",
		ExpirationMinutes: 15,
	}
}

func mintSessionToken(t *testing.T, cfg config.JWTConfig, jti string) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   enums.UserRoleCustomer,
		JTI:    jti,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, userID
}

func TestAuthLogoutRevokesSession(t *testing.T) {
	cfg := sessionJWTConfig()
	jti := uuid.NewString()
	token, _ := mintSessionToken(t, cfg, jti)

	rotator := &stubRotator{}
	handler := AuthLogout(rotator, cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.Code, resp.Body.String())
	}
	if len(rotator.revokedIDs) != 1 || rotator.revokedIDs[0] != jti {
		t.Fatalf("expected revoke of %s got %v", jti, rotator.revokedIDs)
	}
}

func TestAuthLogoutRequiresToken(t *testing.T) {
	handler := AuthLogout(&stubRotator{}, sessionJWTConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRefreshRotatesTokens(t *testing.T) {
	cfg := sessionJWTConfig()
	oldJTI := uuid.NewString()
	token, userID := mintSessionToken(t, cfg, oldJTI)

	newJTI := uuid.NewString()
	rotator := &stubRotator{rotateAccessID: newJTI, rotateRefresh: "fresh-refresh-token"}
	handler := AuthRefresh(rotator, cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh",
		strings.NewReader(`{"refresh_token":"old-refresh-token"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.Code, resp.Body.String())
	}
	if rotator.lastOldAccessID != oldJTI || rotator.lastProvided != "old-refresh-token" {
		t.Fatalf("unexpected rotate call old=%s provided=%s", rotator.lastOldAccessID, rotator.lastProvided)
	}

	var envelope struct {
		Data refreshResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Data.RefreshToken != "fresh-refresh-token" {
		t.Fatalf("expected rotated refresh token got %q", envelope.Data.RefreshToken)
	}
	if resp.Header().Get("X-CC-Token") != envelope.Data.AccessToken {
		t.Fatal("header and payload access tokens differ")
	}

	claims, err := pkgAuth.ParseAccessToken(cfg, envelope.Data.AccessToken)
	if err != nil {
		t.Fatalf("parse new access token: %v", err)
	}
	if claims.ID != newJTI {
		t.Fatalf("expected new access id %s got %s", newJTI, claims.ID)
	}
	if claims.UserID != userID {
		t.Fatalf("expected same user %s got %s", userID, claims.UserID)
	}
}

func TestAuthRefreshRejectsInvalidRefreshToken(t *testing.T) {
	cfg := sessionJWTConfig()
	token, _ := mintSessionToken(t, cfg, uuid.NewString())

	rotator := &stubRotator{rotateErr: session.ErrInvalidRefreshToken}
	handler := AuthRefresh(rotator, cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh",
		strings.NewReader(`{"refresh_token":"stolen"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	envelope := decodeErrorEnvelope(t, resp)
	if envelope.Error.Message != "invalid refresh token" {
		t.Fatalf("expected invalid refresh message got %q", envelope.Error.Message)
	}
}

func TestAuthRefreshRejectsGarbageBearer(t *testing.T) {
	handler := AuthRefresh(&stubRotator{}, sessionJWTConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh",
		strings.NewReader(`{"refresh_token":"whatever"}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}
