package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/fpl-optimizer/internal/api/handlers"
	"github.com/stitts-dev/fpl-optimizer/internal/api/middleware"
	"github.com/stitts-dev/fpl-optimizer/internal/websocket"
)

// NewRouter builds the engine with middleware, health probes, the progress
// websocket and the /api/v1 routes.
func NewRouter(corsOrigins []string, selection *handlers.SelectionHandler, health *handlers.HealthHandler, hub *websocket.Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(corsOrigins))

	router.GET("/health", health.GetHealth)
	router.GET("/ready", health.GetReady)
	if hub != nil {
		router.GET("/ws/progress", hub.HandleWebSocket)
	}

	SetupRoutes(router.Group("/api/v1"), selection)
	return router
}

// SetupRoutes configures the API routes on the given router group
func SetupRoutes(group *gin.RouterGroup, selection *handlers.SelectionHandler) {
	group.POST("/squad", selection.SelectSquad)
	group.POST("/squad/update", selection.UpdateSquad)
	group.POST("/lineup", selection.SelectLineup)

	group.POST("/selections/run", selection.RunSelection)
	group.GET("/selections/:season/:gameweek", selection.GetSelection)
}
