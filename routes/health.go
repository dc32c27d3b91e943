package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupHealthRoutes registers liveness endpoints
func SetupHealthRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
}
