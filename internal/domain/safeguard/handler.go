package safeguard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caresync/caresync/internal/domain/audit"
	"github.com/caresync/caresync/internal/platform/auth"
)

type Handler struct {
	state *State
	audit AuditSink
}

func NewHandler(state *State, sink AuditSink) *Handler {
	return &Handler{state: state, audit: sink}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/status", h.Status, auth.RequireRole("admin"))
	g.POST("/pause", h.Pause, auth.RequireRole("admin"))
	g.POST("/resume", h.Resume, auth.RequireRole("admin"))
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.state.Status())
}

type pauseRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// Pause suspends the pipeline. A mode of "manual" routes every resolution
// to human review instead of rejecting requests outright.
func (h *Handler) Pause(c echo.Context) error {
	var req pauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	mode := ModePaused
	if req.Mode != "" {
		mode = Mode(req.Mode)
		if !mode.Valid() || mode == ModeActive {
			return echo.NewHTTPError(http.StatusBadRequest, "mode must be paused or manual")
		}
	}

	actor := auth.ActorFromContext(c.Request().Context())
	previous := h.state.SetMode(mode)

	if err := h.audit.Record(c.Request().Context(), actor, audit.ActionPipelinePaused, "pipeline", audit.StatusSuccess, false, map[string]any{
		"previous_mode": string(previous),
		"mode":          string(mode),
		"reason":        req.Reason,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record pause")
	}

	return c.JSON(http.StatusOK, h.state.Status())
}

func (h *Handler) Resume(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	previous := h.state.SetMode(ModeActive)

	if err := h.audit.Record(c.Request().Context(), actor, audit.ActionPipelineResumed, "pipeline", audit.StatusSuccess, false, map[string]any{
		"previous_mode": string(previous),
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record resume")
	}

	return c.JSON(http.StatusOK, h.state.Status())
}
