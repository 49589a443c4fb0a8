package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"datacore/internal/metrics"
	"datacore/internal/middlewares"
	"datacore/internal/services"
	"datacore/internal/storage"
)

const (
	maintenancePerWindow = 6
	maintenanceWindow    = time.Minute
)

// Handler 持有进程级 Core，并注册全部运维路由。
type Handler struct {
	core *services.Core
}

func New(core *services.Core) *Handler { return &Handler{core: core} }

// NewRouter 组装带通用中间件的 Gin 引擎。
func NewRouter(core *services.Core) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(metrics.Handler())
	New(core).RegisterRoutes(r)
	return r
}

// RegisterRoutes 在 Gin 路由上挂载运维端点。
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", metrics.Exposer())

	r.GET("/stats", h.stats)
	r.GET("/migrations", h.migrations)
	r.GET("/users/:id", h.userProfile)
	r.GET("/users/:id/activity", h.userActivity)
	r.GET("/analyses/:id/results", h.analysisResults)
	r.GET("/tools/:id/artifact", h.toolArtifact)

	r.POST("/maintenance/cleanup",
		middlewares.RateLimit(h.core.Redis, "maintenance", maintenancePerWindow, maintenanceWindow,
			func(c *gin.Context) string { return c.ClientIP() }),
		h.cleanup)
}

// healthz 存储健康（缓存可降级）时返回 200，否则 503。
func (h *Handler) healthz(c *gin.Context) {
	hl, err := h.core.Stats.Health(c.Request.Context())
	if err != nil || hl.Status == storage.StatusUnhealthy {
		if err != nil {
			_ = c.Error(err)
		}
		c.JSON(http.StatusServiceUnavailable, hl)
		return
	}
	c.JSON(http.StatusOK, hl)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.core.Stats.DatabaseStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) migrations(c *gin.Context) {
	recs, err := h.core.Migrator.Records(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	type row struct {
		Version   string    `json:"version"`
		Name      string    `json:"name"`
		AppliedAt time.Time `json:"applied_at"`
	}
	out := make([]row, 0, len(recs))
	for _, r := range recs {
		out = append(out, row{Version: r.Version, Name: r.Name, AppliedAt: r.AppliedAt})
	}
	c.JSON(http.StatusOK, gin.H{"applied": out})
}

func (h *Handler) userProfile(c *gin.Context) {
	p, err := h.core.Users.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// userActivity 响应按 api:{endpoint}:{参数哈希} 缓存。
func (h *Handler) userActivity(c *gin.Context) {
	ctx := c.Request.Context()
	params := map[string]any{"user_id": c.Param("id")}
	var cached services.UserActivity
	if h.core.Cache.APIResponse(ctx, "user_activity", params, &cached) {
		c.Header("X-Cache", "hit")
		c.JSON(http.StatusOK, cached)
		return
	}
	act, err := h.core.Stats.UserActivity(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.core.Cache.CacheAPIResponse(ctx, "user_activity", params, act)
	c.Header("X-Cache", "miss")
	c.JSON(http.StatusOK, act)
}

func (h *Handler) analysisResults(c *gin.Context) {
	res, err := h.core.Analyses.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "results": res})
}

func (h *Handler) toolArtifact(c *gin.Context) {
	art, err := h.core.Tools.Artifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// cleanup 由外部调度触发；days 缺省时使用配置的保留天数。
func (h *Handler) cleanup(c *gin.Context) {
	days := 0
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "days must be a positive integer"})
			return
		}
		days = n
	}
	rep, err := h.core.Maintenance.Cleanup(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
