package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/solocore/textloom/internal/http/handlers"
	"github.com/solocore/textloom/internal/platform/envutil"
)

// New assembles the gin router for the thin task API.
func New(taskHandler *handlers.TaskHandler, healthHandler *handlers.HealthHandler) *gin.Engine {
	if envutil.String("GIN_MODE", "") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if origins := envutil.String("CORS_ALLOW_ORIGINS", ""); origins != "" {
		corsCfg.AllowOrigins = []string{origins}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", healthHandler.Healthz)

	api := r.Group("/api")
	{
		api.POST("/tasks", taskHandler.Create)
		api.GET("/tasks", taskHandler.List)
		api.GET("/tasks/:id", taskHandler.Get)
		api.POST("/tasks/:id/cancel", taskHandler.Cancel)
	}
	return r
}
