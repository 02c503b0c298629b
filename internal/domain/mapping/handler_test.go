package mapping

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/caresync/caresync/internal/domain/safeguard"
)

func newTestHandler() (*Handler, *pipelineFixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.service), f, echo.New()
}

func TestHandler_Resolve_Success(t *testing.T) {
	h, f, e := newTestHandler()
	f.exact.candidates = []Candidate{{ICDCode: "R50.9", ICDTitle: "Fever, unspecified", Confidence: 1, Stage: StageExact}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{"term":"Jwara"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Resolve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.QueryTerm != "jwara" || result.SelectedStage != StageExact {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHandler_Resolve_EmptyTerm(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{"term":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Resolve(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Resolve_Paused(t *testing.T) {
	h, f, e := newTestHandler()
	f.state.SetMode(safeguard.ModePaused)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{"term":"jwara"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Resolve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"mode":"paused"`) {
		t.Errorf("response must carry the pipeline mode, got %s", rec.Body.String())
	}
}

func TestHandler_Resolve_EmptyCandidates(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{"term":"unknown"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Resolve(c); err != nil {
		t.Fatalf("an empty candidate list is a valid response: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"candidates":[]`) {
		t.Errorf("candidates must serialize as an empty array, got %s", rec.Body.String())
	}
}
