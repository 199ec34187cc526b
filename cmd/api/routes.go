package main

import (
	"database/sql"
	"net/http"
	"time"

	"callbroker/internal/httpapi"
	"callbroker/internal/rbac"
	"callbroker/internal/realtime"
	"callbroker/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const healthTimeout = 2 * time.Second

type healthDeps struct {
	db  *sql.DB
	rdb redis.UniversalClient
}

// registerPublicRoutes wires the liveness and readiness checks.
func registerPublicRoutes(r *gin.Engine, deps healthDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		checks := gin.H{"sql": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := utils.HealthCheck(c.Request.Context(), deps.db, healthTimeout); err != nil {
			checks["sql"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := utils.PingRedis(c.Request.Context(), deps.rdb, healthTimeout); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})
}

func registerRealtimeRoutes(r *gin.Engine, authMW gin.HandlerFunc, gw *realtime.Gateway) {
	r.GET("/ws", authMW, gw.Serve)
}

// registerAPIRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerAPIRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireParty())

	callsGroup := v1.Group("/calls")
	{
		callsGroup.POST("", rbac.RequireAnyRole(rbac.RoleScreen), h.Initiate)
		callsGroup.GET("", h.ListCalls)
		callsGroup.GET("/summary", h.CallsSummary)
		callsGroup.POST("/:id/accept", h.Accept)
		callsGroup.POST("/:id/reject", h.Reject)
		callsGroup.POST("/:id/cancel", h.Cancel)
		callsGroup.POST("/:id/end", h.End)
		callsGroup.PATCH("/:id/status", h.UpdateStatus)
		callsGroup.POST("/:id/recording", h.AttachRecording)
	}

	restaurants := v1.Group("/restaurants/:id")
	{
		restaurants.GET("/queue", rbac.RequireOwnParam("id", rbac.RoleRestaurant), h.Queue)
		restaurants.GET("/metrics", rbac.RequireOwnParam("id", rbac.RoleRestaurant), h.AnswerMetrics)
		restaurants.GET("/queue/:screenId", h.QueuePosition)
		restaurants.DELETE("/queue/:screenId", h.LeaveQueue)
		restaurants.PATCH("/availability", rbac.RequireOwnParam("id", rbac.RoleRestaurant), h.SetAvailability)
	}

	// ADMIN routes
	admin := v1.Group("/admin/restaurants/:id")
	admin.Use(rbac.RequireAnyRole(rbac.RoleSuperAdmin))
	{
		admin.GET("/lock", h.LockStatus)
		admin.POST("/release-lock", h.ForceReleaseLock)
		admin.POST("/reset", h.ResetRestaurant)
		admin.GET("/audit", h.AuditTrail)
	}
}
