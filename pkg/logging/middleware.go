package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Middleware logs one line per request. Server errors log at error level,
// client errors at warn and everything else at debug.
func Middleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start))

		if action := c.Query("action"); action != "" {
			event = event.Str("action", action)
		}
		if subject, ok := c.Get("subject"); ok {
			if s, ok := subject.(string); ok {
				event = event.Str("subject", s)
			}
		}
		if err := c.Errors.Last(); err != nil {
			event = event.Err(err.Err)
		}

		event.Msg("Request handled")
	}
}
