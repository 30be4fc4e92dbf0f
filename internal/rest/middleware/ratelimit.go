package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// IngestRateLimiter applies a per-project token bucket to the event ingest
// path. It runs after project auth so the bucket key is the project id.
type IngestRateLimiter struct {
	cfg *config.Configuration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewIngestRateLimiter(cfg *config.Configuration) *IngestRateLimiter {
	return &IngestRateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle rejects with 429 once the project's bucket is empty.
func (rl *IngestRateLimiter) Handle(c *gin.Context) {
	if !rl.cfg.RateLimit.Enabled {
		c.Next()
		return
	}

	if !rl.limiterFor(types.GetProjectID(c.Request.Context())).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ierr.ErrorResponse{
			Error:      "event rate limit exceeded",
			Code:       ierr.ErrCodeRateLimited,
			StatusCode: http.StatusTooManyRequests,
		})
		return
	}
	c.Next()
}

func (rl *IngestRateLimiter) limiterFor(projectID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[projectID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rl.cfg.RateLimit.EventsPerSecond), rl.cfg.RateLimit.Burst)
		rl.limiters[projectID] = lim
	}
	return lim
}
