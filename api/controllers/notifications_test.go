package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/api/middleware"
	"github.com/covercheck/covercheck-backend/internal/notifications"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	pkgerrors "github.com/covercheck/covercheck-backend/pkg/errors"
)

type stubNotificationsService struct {
	listResult  *notifications.ListResult
	listErr     error
	lastParams  notifications.ListParams
	markReadErr error
	lastUserID  uuid.UUID
	lastNotifID uuid.UUID
	markAllN    int64
}

func (s *stubNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.lastParams = params
	return s.listResult, s.listErr
}

func (s *stubNotificationsService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	s.lastUserID = userID
	s.lastNotifID = notificationID
	return s.markReadErr
}

func (s *stubNotificationsService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.lastUserID = userID
	return s.markAllN, nil
}

func authedRequest(method, target string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func TestListNotificationsScopesToUser(t *testing.T) {
	userID := uuid.New()
	svc := &stubNotificationsService{listResult: &notifications.ListResult{
		Items: []models.Notification{{ID: uuid.New(), UserID: userID, Title: "Invoice issued", CreatedAt: time.Now().UTC()}},
	}}
	handler := ListNotifications(svc, nil)

	req := authedRequest(http.MethodGet, "/api/v1/notifications?limit=10&unreadOnly=true", userID)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.Code, resp.Body.String())
	}
	if svc.lastParams.UserID != userID {
		t.Fatalf("expected user %s got %s", userID, svc.lastParams.UserID)
	}
	if svc.lastParams.Limit != 10 || !svc.lastParams.UnreadOnly {
		t.Fatalf("unexpected params %+v", svc.lastParams)
	}

	var envelope struct {
		Data notifications.ListResult `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].Title != "Invoice issued" {
		t.Fatalf("unexpected items %+v", envelope.Data.Items)
	}
}

func TestListNotificationsRequiresUserContext(t *testing.T) {
	handler := ListNotifications(&stubNotificationsService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestListNotificationsRejectsBadLimit(t *testing.T) {
	handler := ListNotifications(&stubNotificationsService{}, nil)

	req := authedRequest(http.MethodGet, "/api/v1/notifications?limit=zero", uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	userID := uuid.New()
	notifID := uuid.New()
	svc := &stubNotificationsService{}

	router := chi.NewRouter()
	router.Post("/api/v1/notifications/{notificationID}/read", MarkNotificationRead(svc, nil))

	req := authedRequest(http.MethodPost, "/api/v1/notifications/"+notifID.String()+"/read", userID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.Code, resp.Body.String())
	}
	if svc.lastUserID != userID || svc.lastNotifID != notifID {
		t.Fatalf("unexpected mark read call user=%s notif=%s", svc.lastUserID, svc.lastNotifID)
	}
}

func TestMarkNotificationReadSurfacesNotFound(t *testing.T) {
	svc := &stubNotificationsService{markReadErr: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}

	router := chi.NewRouter()
	router.Post("/api/v1/notifications/{notificationID}/read", MarkNotificationRead(svc, nil))

	req := authedRequest(http.MethodPost, "/api/v1/notifications/"+uuid.NewString()+"/read", uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	userID := uuid.New()
	svc := &stubNotificationsService{markAllN: 4}
	handler := MarkAllNotificationsRead(svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/notifications/read-all", userID)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Data["updated"] != 4 {
		t.Fatalf("expected 4 updated got %d", envelope.Data["updated"])
	}
	if svc.lastUserID != userID {
		t.Fatalf("expected user %s got %s", userID, svc.lastUserID)
	}
}
