// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
	"github.com/AtRiskMedia/tractstack-leads/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/tractstack-leads/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware(container.Config.CORSAllowOrigins))

	// Initialize handlers
	trackingHandlers := handlers.NewTrackingHandlers(container)
	privacyHandlers := handlers.NewPrivacyHandlers(container)
	dataLayerHandlers := handlers.NewDataLayerHandlers(container.DataLayerHub, container.Logger)
	conversionHandlers := handlers.NewConversionHandlers(container.Journal, container.Logger)
	healthHandlers := handlers.NewHealthHandlers(container)

	r.GET("/health", healthHandlers.GetHealth)

	api := r.Group("/api/v1")
	{
		track := api.Group("/track")
		{
			track.POST("/visit", trackingHandlers.PostVisit)
			track.POST("/form-start", trackingHandlers.PostFormStart)
			track.POST("/lead", trackingHandlers.PostLead)
			track.POST("/confirm", trackingHandlers.PostConfirm)
		}

		privacy := api.Group("/privacy")
		{
			privacy.POST("/export", privacyHandlers.PostExport)
			privacy.POST("/erase", privacyHandlers.PostErase)
		}

		api.GET("/datalayer/ws", dataLayerHandlers.GetStream)

		// Operator endpoints
		admin := api.Group("/conversions")
		admin.Use(middleware.AdminAuthMiddleware(container.Config.AdminJWTSecret, container.Logger))
		{
			admin.GET("/:correlationId", conversionHandlers.GetConversion)
		}
	}

	return r
}
