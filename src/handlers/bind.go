package handlers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// bindJSON decodes the request body into dst and answers 400 on failure
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints where the body may be empty
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return false
	}
	return true
}

func respondBindError(c *gin.Context, err error) {
	middleware.RespondError(c, &services.APIError{
		Kind:    services.KindValidation,
		Message: "Invalid request body.",
		Details: map[string]interface{}{"reason": err.Error()},
	})
}
