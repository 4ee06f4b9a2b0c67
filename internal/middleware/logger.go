package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Printf("[%s] %d %s %s - %v - %s",
			c.GetString("request_id"),
			c.Writer.Status(),
			c.Request.Method,
			path,
			time.Since(start),
			c.ClientIP(),
		)
	}
}
