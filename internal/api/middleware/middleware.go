// Package middleware holds the Gin middleware for the dashboard server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// beaconPaths are hit by injected beacons from victim pages, not by the
// operator. They get neither the dashboard security headers nor an
// access-log line: the callback store keeps its own record of every hit.
var beaconPaths = map[string]bool{
	"/callback": true,
	"/ui/hit":   true,
}

// Logger returns a Gin middleware that logs dashboard requests.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if beaconPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// SecurityHeaders locks down the operator dashboard. Beacon endpoints
// are left alone so nothing about the response hints at what the server
// is to anyone inspecting victim-side traffic.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		if beaconPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		c.Header("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; "+
				"connect-src 'self'; "+
				"frame-ancestors 'none'; "+
				"base-uri 'self'")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
