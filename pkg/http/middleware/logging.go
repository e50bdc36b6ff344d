package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"AlertGate/pkg/logger"
)

// RequestLogging logs each request at debug level, 4xx at warn and 5xx at error.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = logger.Nop()
	}
	l = l.Component("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.Int("status", status),
				logger.Duration("latency", time.Since(start)),
				logger.String("remote", c.RealIP()),
			}
			switch {
			case status >= 500:
				l.Error("request failed", fields...)
			case status >= 400:
				l.Warn("request rejected", fields...)
			default:
				l.Debug("request served", fields...)
			}
			return nil
		}
	}
}
