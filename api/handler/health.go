package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tabhost/models"
	"github.com/use-agent/tabhost/tabs"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when the idle store has been halved down to a single
// engine, which happens only after repeated memory pressure.
func Health(svc *tabs.Service, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := svc.Pool()
		stats := p.Stats()

		status := "healthy"
		if stats.Capacity < p.Config().Capacity && stats.Capacity <= 1 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Pool:    poolStats(stats),
			Version: Version,
		})
	}
}
