package handler

import "github.com/gin-gonic/gin"

// errorResponse sends a JSON error response in the {"error": message}
// shape the dashboard and CLI clients expect.
func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
