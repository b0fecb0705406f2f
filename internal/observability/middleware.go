package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// quietRoutes are polled by probes and scrapers; they log at debug.
var quietRoutes = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// RequestLogger writes one line per gateway request. Server and tool route
// params are attached when the route carries them, and errors recorded with
// c.Error are logged alongside the status.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()

		var event *zerolog.Event
		switch _, quiet := quietRoutes[route]; {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quiet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if route == "" {
			event = event.Str("path", c.Request.URL.Path)
		} else {
			event = event.Str("route", route)
		}
		if server := c.Param("server"); server != "" {
			event = event.Str("server", server)
		}
		if tool := c.Param("tool"); tool != "" {
			event = event.Str("tool", tool)
		}
		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.ByType(gin.ErrorTypeAny).String())
		}

		event.
			Str("method", c.Request.Method).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("gateway request")
	}
}

// RequestMetricsMiddleware labels by route template so per-server and
// per-tool paths do not explode label cardinality.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(node, c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
