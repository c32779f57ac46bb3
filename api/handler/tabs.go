package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tabhost/models"
	"github.com/use-agent/tabhost/tabs"
)

// OpenTab returns a handler for POST /api/v1/tabs. The body is optional.
func OpenTab(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.OpenTabRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}

		info, err := svc.Open(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, models.TabResponse{
			Success: true,
			Tab:     info,
			Timing:  &models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		})
	}
}

// ListTabs returns a handler for GET /api/v1/tabs.
func ListTabs(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabListResponse{Success: true, Tabs: list})
	}
}

// GetTab returns a handler for GET /api/v1/tabs/:id.
func GetTab(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabResponse{Success: true, Tab: info})
	}
}

// CloseTab returns a handler for DELETE /api/v1/tabs/:id.
func CloseTab(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Close(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabResponse{Success: true})
	}
}

// Navigate returns a handler for POST /api/v1/tabs/:id/navigate.
func Navigate(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.NavigateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		timeout := time.Duration(req.Timeout) * time.Second
		info, err := svc.Navigate(c.Request.Context(), c.Param("id"), req.URL, timeout)
		if err != nil {
			respondError(c, err)
			return
		}
		elapsed := time.Since(start).Milliseconds()
		c.JSON(http.StatusOK, models.TabResponse{
			Success: true,
			Tab:     info,
			Timing:  &models.TimingInfo{TotalMs: elapsed, NavigationMs: elapsed},
		})
	}
}

// Eval returns a handler for POST /api/v1/tabs/:id/eval.
func Eval(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.EvalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults()

		result, err := svc.Evaluate(c.Request.Context(), c.Param("id"), req.Script, time.Duration(req.Timeout)*time.Second)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.EvalResponse{Success: true, Result: result})
	}
}

// Hibernate returns a handler for POST /api/v1/tabs/:id/hibernate.
func Hibernate(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.Hibernate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabResponse{Success: true, Tab: info})
	}
}

// Wake returns a handler for POST /api/v1/tabs/:id/wake.
func Wake(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.Wake(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabResponse{Success: true, Tab: info})
	}
}

// Visibility returns a handler for POST /api/v1/tabs/:id/visibility.
func Visibility(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.VisibilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		info, err := svc.SetVisible(c.Request.Context(), c.Param("id"), *req.Visible)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TabResponse{Success: true, Tab: info})
	}
}

// Snapshot returns a handler for GET /api/v1/tabs/:id/snapshot.
func Snapshot(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var q models.SnapshotQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err)
			return
		}
		q.Defaults()

		resp, err := svc.Snapshot(c.Request.Context(), c.Param("id"), q)
		if err != nil {
			respondError(c, err)
			return
		}
		elapsed := time.Since(start).Milliseconds()
		resp.Timing = &models.TimingInfo{TotalMs: elapsed}
		if resp.CacheStatus != "hit" {
			resp.Timing.CleaningMs = elapsed
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Forms returns a handler for GET /api/v1/tabs/:id/forms.
func Forms(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := svc.Forms(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Download returns a handler for POST /api/v1/tabs/:id/download.
func Download(svc *tabs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DownloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res, err := svc.Download(c.Request.Context(), c.Param("id"), req.URL)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.DownloadResponse{
			Success:     true,
			URL:         res.URL,
			FinalURL:    res.FinalURL,
			StatusCode:  res.StatusCode,
			ContentType: res.ContentType,
			Size:        len(res.Body),
			Body:        base64.StdEncoding.EncodeToString(res.Body),
		})
	}
}
