package handlers

import (
	portssvc "github.com/fxsync/ratesync/internal/core/ports/services"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes sets up all application routes, injecting dependencies
// using interfaces.
func RegisterRoutes(r *gin.Engine, rateService portssvc.RateQuerySvcFacade) {
	r.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})

	v1 := r.Group("/api/v1")
	registerRateRoutes(v1, rateService)
}
