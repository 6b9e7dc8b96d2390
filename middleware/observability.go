package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"travel-missions/metrics"
)

const (
	loggerKey       = "logger"
	headerRequestID = "X-Request-ID"
)

// RequestLogger tags every request with a request id, stores a per-request
// log entry in Locals and records the HTTP collectors.
func RequestLogger(log *logrus.Entry, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		rid := c.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(headerRequestID, rid)

		method := c.Method()
		c.Locals(loggerKey, log.WithField("request_id", rid))
		if m != nil {
			m.RequestsInFlight.WithLabelValues(method).Inc()
			defer m.RequestsInFlight.WithLabelValues(method).Dec()
		}

		err := c.Next()
		if err != nil {
			// Let the app error handler write the response so the status is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		elapsed := time.Since(start)
		if m != nil {
			m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
		}

		entry := Logger(c).WithFields(logrus.Fields{
			"method":      method,
			"path":        c.Path(),
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		})
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("request failed")
		case status >= fiber.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
		return nil
	}
}

// Logger returns the request-scoped entry, or a bare one outside RequestLogger.
func Logger(c *fiber.Ctx) *logrus.Entry {
	if entry, ok := c.Locals(loggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
