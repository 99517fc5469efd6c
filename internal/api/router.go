package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterbridge/meterbridge/internal/logger"
)

// NewRouter builds the HTTP surface of the processor: a health endpoint
// for container orchestration probes. Everything else happens offline.
func NewRouter(log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	health := func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
	router.GET("/health", health)
	router.HEAD("/health", health)

	log.Infow("health endpoint registered", "path", "/health")
	return router
}
