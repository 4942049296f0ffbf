package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookline-app/bookline/pkg/log/ctxlogger"
	"github.com/bookline-app/bookline/pkg/telemetry/correlation"
)

// GinMiddleware logs each request with correlation identifiers.
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := c.Request.Context()
		if header := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); header != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, header)
		}
		ctx, correlationID := correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		if route == "/metrics" || route == "/health" {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", normalizeSize(c.Writer.Size())),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.String("error", lastErr.Error()))
		}

		log := ctxlogger.WithContext(ctx, base)
		if status >= http.StatusInternalServerError {
			log.Error("http_request", fields...)
		} else {
			log.Info("http_request", fields...)
		}
	}
}

func normalizeSize(size int) int {
	if size < 0 {
		return 0
	}
	return size
}
