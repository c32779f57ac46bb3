package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tabhost/models"
	"github.com/use-agent/tabhost/pool"
	"github.com/use-agent/tabhost/tabs"
)

// GetPool returns a handler for GET /api/v1/pool.
func GetPool(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := svc.Pool()
		infos := p.Handles()
		engines := make([]models.EngineInfo, 0, len(infos))
		for _, in := range infos {
			engines = append(engines, models.EngineInfo{
				ID:             in.ID,
				State:          in.State,
				TabID:          in.TabID,
				FootprintBytes: in.Footprint,
				LastTrim:       in.LastTrim,
				Uses:           in.Uses,
				CreatedAt:      in.Created,
			})
		}
		c.JSON(http.StatusOK, models.PoolResponse{
			Success: true,
			Stats:   poolStats(p.Stats()),
			Engines: engines,
		})
	}
}

// Preload returns a handler for POST /api/v1/pool/preload.
func Preload(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PreloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		p := svc.Pool()
		made, err := p.Preload(c.Request.Context(), req.Count)
		if err != nil && made == 0 {
			respondError(c, models.NewAPIError(models.ErrCodeAllocation, "preload failed", err))
			return
		}
		c.JSON(http.StatusOK, models.PoolResponse{
			Success:  true,
			Stats:    poolStats(p.Stats()),
			Affected: &made,
		})
	}
}

// Shrink returns a handler for POST /api/v1/pool/shrink.
func Shrink(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ShrinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		p := svc.Pool()
		n := p.Shrink(req.Keep)
		c.JSON(http.StatusOK, models.PoolResponse{
			Success:  true,
			Stats:    poolStats(p.Stats()),
			Affected: &n,
		})
	}
}

// Pressure returns a handler for POST /api/v1/pool/pressure. It sheds every
// idle engine and halves the idle capacity, as on a low-memory signal.
func Pressure(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := svc.RelieveMemoryPressure()
		c.JSON(http.StatusOK, models.PoolResponse{
			Success:  true,
			Stats:    poolStats(svc.Pool().Stats()),
			Affected: &n,
		})
	}
}

func poolStats(s pool.Stats) models.PoolStats {
	return models.PoolStats{
		Capacity:   s.Capacity,
		Active:     s.Active,
		Hibernated: s.Hibernated,
		Idle:       s.Idle,
		Created:    s.Created,
		Reused:     s.Reused,
		Destroyed:  s.Destroyed,
		Trims:      s.Trims,
	}
}
