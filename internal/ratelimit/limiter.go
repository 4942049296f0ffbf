package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bookline-app/bookline/internal/config"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Bucket *TokenBucket `optional:"true"`
}

// Limiter throttles the HTTP surface. Authenticated routes are limited per
// user, the webhook route per source address. When disabled, or when redis is
// unreachable, requests pass; throttling is protection, not a dependency.
type Limiter struct {
	log     *zap.Logger
	cfg     config.Config
	bucket  *TokenBucket
	enabled bool
}

func NewLimiter(p Params) *Limiter {
	enabled := p.Cfg.RateLimitEnabled && p.Bucket != nil
	return &Limiter{
		log:     p.Log.Named("ratelimit"),
		cfg:     p.Cfg,
		bucket:  p.Bucket,
		enabled: enabled,
	}
}

// PerUser throttles by the authenticated user id set upstream.
func (l *Limiter) PerUser() gin.HandlerFunc {
	return l.middleware(func(c *gin.Context) string {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			return ""
		}
		return "ratelimit:user:" + userID
	}, func() (float64, int) { return l.cfg.APIRatePerSecond, l.cfg.APIBurst })
}

// PerIP throttles unauthenticated routes by client address.
func (l *Limiter) PerIP() gin.HandlerFunc {
	return l.middleware(func(c *gin.Context) string {
		return "ratelimit:ip:" + c.ClientIP()
	}, func() (float64, int) { return l.cfg.WebhookRatePerSec, l.cfg.WebhookBurst })
}

func (l *Limiter) middleware(keyFn func(*gin.Context) string, limits func() (float64, int)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.enabled {
			c.Next()
			return
		}
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}

		rate, burst := limits()
		result, err := l.bucket.Allow(c.Request.Context(), key, rate, burst)
		if err != nil {
			l.log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				seconds := int(result.RetryAfter/time.Second) + 1
				c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
