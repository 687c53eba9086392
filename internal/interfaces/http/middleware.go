package http

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/highclaw/clawdeck/internal/security"
)

// loggerMiddleware logs HTTP requests at debug level.
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Debug("http request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

// localhostOnlyMiddleware rejects requests that do not come from loopback.
func localhostOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "localhost only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware answers 429 once a client exceeds the limiter.
func rateLimitMiddleware(l *security.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !l.Allow(key) {
			wait := l.RetryAfter(key)
			c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(wait.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many action triggers"})
			c.Abort()
			return
		}
		c.Next()
	}
}
