// README: Request logging middleware backed by logrus.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rideshare/internal/logging"
)

const headerRequestID = "X-Request-ID"

// Logging tags each request with an id, exposes a scoped entry through the
// request context, and writes one line when the request finishes.
func Logging(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(headerRequestID, reqID)

		entry := log.WithField("request_id", reqID)
		c.Request = c.Request.WithContext(logging.WithContext(c.Request.Context(), entry))
		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if uid := CallerUID(c); uid != "" {
			fields["caller_id"] = uid
		}
		entry = entry.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
