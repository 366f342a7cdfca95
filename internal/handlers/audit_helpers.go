package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chirpchat/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if id := middleware.UserID(c); id != "" {
		return id
	}
	return c.GetHeader("X-User-Id")
}
