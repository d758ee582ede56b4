package main

import (
	"database/sql"
	"net/http"
	"time"

	"scheduling-platform/internal/httpapi"
	"scheduling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				status["db"] = "down"
				c.JSON(http.StatusServiceUnavailable, status)
				return
			}
			status["db"] = "ok"
		}
		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				status["redis"] = "down"
			} else {
				status["redis"] = "ok"
			}
		}
		c.JSON(http.StatusOK, status)
	})

	// Provider webhooks (public).
	// NOTE: webhook signature validation is a deployment concern; the payload
	// itself is validated in calls.ParseWebhook.
	r.POST("/webhooks/call", h.CallWebhook)

	v1 := r.Group("/v1")
	{
		v1.GET("/slots", h.ListSlots)
		v1.GET("/slots/check", h.CheckSlot)
		v1.POST("/slots/hold", h.AcquireHold)
		v1.DELETE("/slots/hold", h.ReleaseHold)

		v1.POST("/bookings", h.CreateBooking)

		v1.POST("/calls", h.StartCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.PATCH("/calls/:call_id/conversation", h.UpdateConversation)
	}
}
