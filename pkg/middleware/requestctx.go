package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"frameworks/sextant/pkg/logging"
)

const requestIDKey = "request_id"

// GetRequestID returns the ID assigned by RequestIDMiddleware, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// GetContextLogger returns an entry tagged with the request ID and route.
func GetContextLogger(c *gin.Context, logger logging.Logger) *logrus.Entry {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return logging.OrDiscard(logger).WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"route":      route,
	})
}
