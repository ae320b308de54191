package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCronTokenAllowsMatchingToken(t *testing.T) {
	handler := CronToken("trigger-secret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/cron/v1/renewals/run", nil)
	req.Header.Set("X-Cron-Token", "trigger-secret")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestCronTokenRejectsWrongToken(t *testing.T) {
	handler := CronToken("trigger-secret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/cron/v1/renewals/run", nil)
	req.Header.Set("X-Cron-Token", "guess")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCronTokenDisabledWithoutSecret(t *testing.T) {
	handler := CronToken("", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/cron/v1/renewals/run", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
