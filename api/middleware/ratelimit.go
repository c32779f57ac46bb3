package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tabhost/config"
	"github.com/use-agent/tabhost/models"
	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL   = time.Hour
	bucketSweepTick = 5 * time.Minute
)

// buckets holds one token bucket per caller identity.
type buckets struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byID  map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// reserve takes a token for id and returns how long the caller must wait
// before the request would be allowed. Zero means allowed now.
func (b *buckets) reserve(id string, now time.Time) time.Duration {
	b.mu.Lock()
	bk, ok := b.byID[id]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.limit, b.burst)}
		b.byID[id] = bk
	}
	bk.lastSeen = now
	b.mu.Unlock()

	r := bk.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(math.MaxInt64)
	}
	if d := r.DelayFrom(now); d > 0 {
		// Rejected requests must not consume future tokens.
		r.CancelAt(now)
		return d
	}
	return 0
}

func (b *buckets) sweep(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, bk := range b.byID {
		if bk.lastSeen.Before(cutoff) {
			delete(b.byID, id)
		}
	}
}

// RateLimit limits each caller, identified by API key when auth ran and by
// client IP otherwise, to a token bucket from cfg. Rejections carry a
// Retry-After header. Idle buckets are dropped until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	b := &buckets{
		limit: rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.Burst,
		byID:  make(map[string]*bucket),
	}

	go func() {
		ticker := time.NewTicker(bucketSweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.sweep(now.Add(-bucketIdleTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		identity := c.GetString("api_key")
		if identity == "" {
			identity = c.ClientIP()
		}

		wait := b.reserve(identity, time.Now())
		if wait == 0 {
			c.Next()
			return
		}

		secs := int64(math.Ceil(wait.Seconds()))
		if wait < 0 || secs > 3600 {
			secs = 3600
		}
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
			Error: &models.ErrorDetail{
				Code:    models.ErrCodeRateLimited,
				Message: "rate limit exceeded, please slow down",
			},
		})
	}
}
