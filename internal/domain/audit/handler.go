package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caresync/caresync/internal/platform/auth"
	"github.com/caresync/caresync/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/audit", h.List, auth.RequireRole("admin", "auditor"))
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromQuery(c)
	f := Filter{
		Actor:    c.QueryParam("actor"),
		Action:   c.QueryParam("action"),
		Status:   c.QueryParam("status"),
		Resource: c.QueryParam("resource"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}

	records, total, err := h.service.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit records")
	}
	if records == nil {
		records = []*Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
	})
}
