package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
)

// ErrorHandler logs errors recorded on the context and, unless a handler
// already wrote a body, renders the last one.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			fields := []interface{}{
				"request_id", requestID,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP(),
			}
			if apperrors.HTTPStatus(e.Err) >= 500 {
				log.Error(e.Err, "request error", fields...)
			} else {
				log.Debug("request rejected", append(fields, "error", e.Err.Error())...)
			}
		}

		if c.Writer.Written() {
			return
		}
		handler.WriteError(c, c.Errors.Last().Err)
	}
}
