package review

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	g.GET("/review/tasks", h.List, auth.RequireRole("admin", "reviewer"))
	g.GET("/review/tasks/:id", h.Get, auth.RequireRole("admin", "reviewer"))
	g.POST("/review/tasks/:id/resolve", h.Resolve, auth.RequireRole("admin", "reviewer"))
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromQuery(c)
	f := Filter{
		Status:   c.QueryParam("status"),
		Priority: c.QueryParam("priority"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}

	tasks, total, err := h.service.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list review tasks")
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": total,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}

	task, err := h.service.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "review task not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get review task")
	}
	return c.JSON(http.StatusOK, task)
}

func (h *Handler) Resolve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}

	var res Resolution
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reviewer := auth.ActorFromContext(c.Request().Context())
	task, err := h.service.Resolve(c.Request().Context(), id, reviewer, res)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "review task not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "review task already resolved")
	case errors.Is(err, ErrInvalidResolution):
		return echo.NewHTTPError(http.StatusBadRequest, "accepted resolutions must name one of the task's candidate codes")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve review task")
	}

	return c.JSON(http.StatusOK, task)
}
