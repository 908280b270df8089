package httpserver

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/autoapply/internal/metrics"
)

// metricsMiddleware records request counts and latency per route template.
// It skips /metrics and /health/* endpoints.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := c.Path()
		if route == "/metrics" || strings.HasPrefix(route, "/health/") {
			return next(c)
		}

		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			status := strconv.Itoa(c.Response().Status)
			metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, route, status).Observe(v)
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
		}))

		err := next(c)
		timer.ObserveDuration()
		return err
	}
}
