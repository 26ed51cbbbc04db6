package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPObserver records request outcomes.
type HTTPObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics captures method, route, status and latency for every request.
func Metrics(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observer.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
