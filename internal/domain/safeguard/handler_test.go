package safeguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/caresync/caresync/internal/platform/auth"
)

func serveAs(e *echo.Echo, method, path, body string, roles []string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if roles != nil {
		ctx := context.WithValue(req.Context(), auth.RolesKey, roles)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegister_StatusRequiresAdmin(t *testing.T) {
	e := echo.New()
	NewHandler(NewState(), &mockSink{}).Register(e.Group("/api/v1"))

	if rec := serveAs(e, http.MethodGet, "/api/v1/status", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("status without a role: expected 403, got %d", rec.Code)
	}
	if rec := serveAs(e, http.MethodGet, "/api/v1/status", "", []string{"reviewer"}); rec.Code != http.StatusForbidden {
		t.Errorf("status as reviewer: expected 403, got %d", rec.Code)
	}
	rec := serveAs(e, http.MethodGet, "/api/v1/status", "", []string{"admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status as admin: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"mode":"active"`) {
		t.Errorf("unexpected status body: %s", rec.Body.String())
	}
}

func TestRegister_PauseResumeRequireAdmin(t *testing.T) {
	e := echo.New()
	state := NewState()
	NewHandler(state, &mockSink{}).Register(e.Group("/api/v1"))

	if rec := serveAs(e, http.MethodPost, "/api/v1/pause", "", []string{"reviewer"}); rec.Code != http.StatusForbidden {
		t.Errorf("pause as reviewer: expected 403, got %d", rec.Code)
	}
	if rec := serveAs(e, http.MethodPost, "/api/v1/pause", `{"reason":"maintenance"}`, []string{"admin"}); rec.Code != http.StatusOK {
		t.Fatalf("pause as admin: expected 200, got %d", rec.Code)
	}
	if state.Mode() != ModePaused {
		t.Fatalf("expected paused, got %s", state.Mode())
	}

	if rec := serveAs(e, http.MethodPost, "/api/v1/resume", "", []string{"admin"}); rec.Code != http.StatusOK {
		t.Fatalf("resume as admin: expected 200, got %d", rec.Code)
	}
	if state.Mode() != ModeActive {
		t.Errorf("expected active after resume, got %s", state.Mode())
	}
}

func TestPause_InvalidMode(t *testing.T) {
	e := echo.New()
	NewHandler(NewState(), &mockSink{}).Register(e.Group("/api/v1"))

	rec := serveAs(e, http.MethodPost, "/api/v1/pause", `{"mode":"active"}`, []string{"admin"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pausing into active mode: expected 400, got %d", rec.Code)
	}
}
