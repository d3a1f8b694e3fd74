package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"crdtsync/internal/logging"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency through the shared structured event logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Event("http_request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"client":   c.ClientIP(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// Recovery wraps Gin's default recovery but logs panics through the same
// structured event logger, matching spec.md §7's "internal (bug/panic):
// MUST NOT corrupt Registry, event logged" contract for the HTTP edge.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logging.Event("http_panic_recovered", map[string]any{"error": err})
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
