package http

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler mounts a set of routes on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// HandlerFunc lets a plain function mount routes.
type HandlerFunc func(e *echo.Echo)

func (f HandlerFunc) RegisterRoutes(e *echo.Echo) { f(e) }

// Handlers mounts each entry in order, skipping nils.
type Handlers []Handler

func (hs Handlers) RegisterRoutes(e *echo.Echo) {
	for _, h := range hs {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}

// MetricsHandler exposes the default Prometheus registry on GET /metrics.
func MetricsHandler() Handler {
	return HandlerFunc(func(e *echo.Echo) {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	})
}
