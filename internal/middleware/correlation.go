package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderCorrelationID is read from the request when present and echoed on
// every response, including 429s and 5xxs.
const HeaderCorrelationID = "X-Correlation-Id"

const (
	contextKeyCorrelationID = "correlation_id"
	contextKeyLogger        = "request_logger"
)

// Correlation is the first real pipeline stage: reuse the caller's
// correlation id or mint one, stamp it on the response up front so every
// later outcome carries it, and bind a correlation-scoped logger into the
// request context.
func Correlation(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(HeaderCorrelationID, id)
		c.Set(contextKeyCorrelationID, id)
		c.Set(contextKeyLogger, logger.With(zap.String("correlation_id", id)))

		c.Next()
	}
}

// CorrelationID returns the id assigned to this request, or empty if the
// correlation stage has not run.
func CorrelationID(c *gin.Context) string {
	return c.GetString(contextKeyCorrelationID)
}

// Logger returns the correlation-scoped logger for this request. Safe to
// call from any stage; falls back to a nop logger.
func Logger(c *gin.Context) *zap.Logger {
	if l, exists := c.Get(contextKeyLogger); exists {
		if logger, ok := l.(*zap.Logger); ok {
			return logger
		}
	}
	return zap.NewNop()
}
