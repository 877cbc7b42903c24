package api

import "github.com/gin-gonic/gin"

// ErrorResponse represents an API-level error response (distinct from the
// wire envelope returned by the registration endpoint).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
