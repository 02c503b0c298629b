package mapping

import (
	"errors"
	"net/http"

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
	g.POST("/resolve", h.Resolve)
	g.GET("/mapping/versions", h.ListVersions, auth.RequireRole("admin"))
}

type resolveRequest struct {
	Term string `json:"term"`
	K    int    `json:"k"`
}

func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.K < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "k must be non-negative")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	result, err := h.service.Resolve(c.Request().Context(), actor, req.Term)
	switch {
	case errors.Is(err, ErrInvalidTerm):
		return echo.NewHTTPError(http.StatusBadRequest, "term is required")
	case errors.Is(err, ErrPaused):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "resolution pipeline is paused",
			"mode":  "paused",
		})
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve term")
	}

	if req.K > 0 && len(result.Candidates) > req.K {
		result.Candidates = result.Candidates[:req.K]
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListVersions(c echo.Context) error {
	versions, err := h.service.ListVersions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list mapping versions")
	}
	if versions == nil {
		versions = []Version{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"versions": versions})
}
