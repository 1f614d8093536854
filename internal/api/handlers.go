// Package api exposes a small read-only HTTP surface over the routing
// table for operators, grounded on the teacher's cmd/mcp-manager
// gin/cors router setup and internal/api.Handler route registration
// style, generalized from managing containers to inspecting routes.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
	"github.com/jupyterhub/traefik-routing-controller/internal/routingtable"
)

// Handler wires the routing table into gin routes.
type Handler struct {
	controller *routingtable.Controller
	logger     *slog.Logger
	version    string
}

// NewHandler constructs a Handler.
func NewHandler(controller *routingtable.Controller, logger *slog.Logger, version string) *Handler {
	return &Handler{controller: controller, logger: logger, version: version}
}

// SetupRouter builds a gin.Engine with logging, recovery, optional
// CORS, and this handler's routes registered.
func (h *Handler) SetupRouter(corsEnabled bool, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		h.logger.Info("http request",
			slog.String("method", p.Method),
			slog.String("path", p.Path),
			slog.Int("status", p.StatusCode),
			slog.Duration("latency", p.Latency))
		return ""
	}))

	if corsEnabled {
		corsConfig := cors.DefaultConfig()
		if len(allowedOrigins) > 0 {
			corsConfig.AllowOrigins = allowedOrigins
		} else {
			corsConfig.AllowAllOrigins = true
		}
		corsConfig.AllowMethods = []string{"GET"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
		router.Use(cors.New(corsConfig))
	}

	h.SetupRoutes(router)
	return router
}

// SetupRoutes registers this handler's endpoints on router.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.getHealth)
	router.GET("/routes", h.getAllRoutes)
	router.GET("/routes/*spec", h.getRoute)
}

func (h *Handler) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"state":   string(h.controller.State()),
		"version": h.version,
	})
}

func (h *Handler) getAllRoutes(c *gin.Context) {
	routes := h.controller.GetAllRoutes()
	out := make(map[string]gin.H, len(routes))
	for spec, r := range routes {
		out[spec] = gin.H{"target": r.Target, "data": r.Data}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getRoute(c *gin.Context) {
	spec := c.Param("spec")
	r, err := h.controller.GetRoute(spec)
	if err != nil {
		if ctlerrors.KindOf(err) == ctlerrors.NotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"routespec": r.Spec,
		"target":    r.Target,
		"data":      r.Data,
	})
}
