package mw

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/metrics"
)

// Metrics records the duration of every request by route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}
