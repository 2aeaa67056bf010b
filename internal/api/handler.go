// ABOUTME: REST handlers for targets, reference data, sync, generate and apply
// ABOUTME: Thin translation between echo requests and admin.Service calls

package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/smokingpi/smokeadmin/internal/admin"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// Handler serves the admin API.
type Handler struct {
	svc    *admin.Service
	logger *slog.Logger
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *admin.Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "api"),
	}
}

// SyncRequest is the body of POST /sources/:category/sync. With "domains"
// absent or null the category's registered source is used; an empty array
// deactivates every discovered target in the category.
type SyncRequest struct {
	Domains []string `json:"domains"`
}

// NewServer returns an echo instance with request logging, panic recovery
// and every route registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			h.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Microsecond),
			)
			return nil
		},
	}))
	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes mounts the API on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/status", h.handleStatus)
	e.GET("/bandwidth", h.handleBandwidth)

	e.GET("/targets", h.handleListTargets)
	e.POST("/targets", h.handleAddTarget)
	e.GET("/targets/:id", h.handleGetTarget)
	e.PATCH("/targets/:id", h.handleUpdateTarget)
	e.DELETE("/targets/:id", h.handleDeleteTarget)
	e.POST("/targets/:id/toggle", h.handleToggleTarget)

	e.GET("/categories", h.handleCategories)
	e.GET("/probes", h.handleProbes)
	e.GET("/sources", h.handleSources)
	e.POST("/sources/:category/sync", h.handleSync)

	e.POST("/generate", h.handleGenerate)
	e.POST("/apply", h.handleApply)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "ok",
		"backend": h.svc.Store().Backend(),
	})
}

func (h *Handler) handleStatus(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("%d active targets on %s backend", st.ActiveTargets, st.Backend),
		"status":  st,
	})
}

func (h *Handler) handleBandwidth(c echo.Context) error {
	bw, err := h.svc.Bandwidth(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"message":   fmt.Sprintf("%.6f Mbps for %d active targets", bw.Mbps, bw.ActiveTargets),
		"bandwidth": bw,
	})
}

func (h *Handler) handleListTargets(c echo.Context) error {
	filter := store.TargetFilter{Category: c.QueryParam("category")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "active must be true or false")
		}
		filter.ActiveOnly = active
		filter.InactiveOnly = !active
	}

	targets, err := h.svc.ListTargets(c.Request().Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	if targets == nil {
		targets = []store.Target{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("%d targets", len(targets)),
		"targets": targets,
	})
}

func (h *Handler) handleGetTarget(c echo.Context) error {
	t, err := h.svc.GetTarget(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": t.Name, "target": t})
}

func (h *Handler) handleAddTarget(c echo.Context) error {
	var req admin.AddTargetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := h.svc.AddTarget(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": fmt.Sprintf("target %s added to %s", t.Name, t.Category),
		"target":  t,
	})
}

func (h *Handler) handleUpdateTarget(c echo.Context) error {
	var req admin.UpdateTargetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := h.svc.UpdateTarget(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("target %s updated", t.Name),
		"target":  t,
	})
}

func (h *Handler) handleDeleteTarget(c echo.Context) error {
	res, err := h.svc.DeleteTarget(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) handleToggleTarget(c echo.Context) error {
	t, err := h.svc.ToggleTarget(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	state := "disabled"
	if t.Active {
		state = "enabled"
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("target %s %s", t.Name, state),
		"target":  t,
	})
}

func (h *Handler) handleCategories(c echo.Context) error {
	cats, err := h.svc.Categories(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if cats == nil {
		cats = []store.Category{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"message":    fmt.Sprintf("%d categories", len(cats)),
		"categories": cats,
	})
}

func (h *Handler) handleProbes(c echo.Context) error {
	probes, err := h.svc.Probes(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if probes == nil {
		probes = []store.Probe{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("%d probes", len(probes)),
		"probes":  probes,
	})
}

func (h *Handler) handleSources(c echo.Context) error {
	sources, err := h.svc.Sources(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if sources == nil {
		sources = []store.Source{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("%d sources", len(sources)),
		"sources": sources,
	})
}

func (h *Handler) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.Sync(c.Request().Context(), c.Param("category"), req.Domains)
	if err != nil {
		return c.JSON(StatusFor(err), res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) handleGenerate(c echo.Context) error {
	gen, err := h.svc.Generate(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"message":  fmt.Sprintf("generated %d targets in %d categories", gen.Targets, gen.Categories),
		"summary":  gen,
		"targets":  gen.Rendered.Targets,
		"probes":   gen.Rendered.Probes,
		"warnings": gen.Warnings,
	})
}

func (h *Handler) handleApply(c echo.Context) error {
	res, err := h.svc.Apply(c.Request().Context())
	if err != nil {
		h.logger.Warn("apply failed", "error", err)
		return c.JSON(StatusFor(err), res)
	}
	return c.JSON(http.StatusOK, res)
}
