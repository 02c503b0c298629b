package feedback

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caresync/caresync/internal/platform/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/feedback", h.Submit)
	g.GET("/feedback/summary", h.Summary, auth.RequireRole("admin", "reviewer"))
	g.POST("/proposals", h.Propose, auth.RequireRole("admin"))
	g.GET("/proposals", h.ListProposals, auth.RequireRole("admin", "reviewer"))
	g.POST("/proposals/:id/approve", h.Approve, auth.RequireRole("admin"))
	g.POST("/proposals/:id/reject", h.Reject, auth.RequireRole("admin"))
}

type submitRequest struct {
	Term         string  `json:"term"`
	SuggestedICD string  `json:"suggested_icd"`
	ClinicianICD string  `json:"clinician_icd"`
	EncounterRef string  `json:"encounter_ref"`
	Confidence   float64 `json:"confidence"`
}

func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	rec, err := h.service.Submit(c.Request().Context(), actor,
		req.Term, req.SuggestedICD, req.ClinicianICD, req.EncounterRef, req.Confidence)
	if errors.Is(err, ErrInvalidFeedback) {
		return echo.NewHTTPError(http.StatusBadRequest, "term and suggested_icd are required")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record feedback")
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Summary(c echo.Context) error {
	summaries, err := h.service.Summaries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to summarize feedback")
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summaries": summaries})
}

type proposeRequest struct {
	Term          string `json:"term"`
	ICDCode       string `json:"icd_code"`
	ICDTitle      string `json:"icd_title"`
	Justification string `json:"justification"`
}

func (h *Handler) Propose(c echo.Context) error {
	var req proposeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.service.Propose(c.Request().Context(), actor, req.Term, req.ICDCode, req.ICDTitle, req.Justification)
	if errors.Is(err, ErrInvalidFeedback) {
		return echo.NewHTTPError(http.StatusBadRequest, "term and icd_code are required")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create proposal")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListProposals(c echo.Context) error {
	proposals, err := h.service.ListProposals(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list proposals")
	}
	if proposals == nil {
		proposals = []*Proposal{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"proposals": proposals})
}

func (h *Handler) Approve(c echo.Context) error {
	return h.decide(c, h.service.Approve)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, h.service.Reject)
}

func (h *Handler) decide(c echo.Context, fn func(ctx context.Context, id uuid.UUID, decidedBy string) (*Proposal, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	p, err := fn(c.Request().Context(), id, actor)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "proposal not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "proposal already decided")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to decide proposal")
	}
	return c.JSON(http.StatusOK, p)
}
