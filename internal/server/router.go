package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/reelworks/sportsreel-backend/internal/handlers"
	"github.com/reelworks/sportsreel-backend/internal/utils"
)

type RouterConfig struct {
	AthleteHandler  *handlers.AthleteHandler
	GenerateHandler *handlers.GenerateHandler
	SSEHandler      *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// reel generation
		api.POST("/generate", cfg.GenerateHandler.Generate)
		api.GET("/generate/status", cfg.GenerateHandler.GetStatus)
		api.DELETE("/generate", cfg.GenerateHandler.Cancel)
		api.GET("/jobs", cfg.GenerateHandler.ListJobs)
		api.GET("/jobs/:id", cfg.GenerateHandler.GetJob)
		api.DELETE("/jobs/:id", cfg.GenerateHandler.CancelJob)

		// queue control
		api.GET("/queue/metrics", cfg.GenerateHandler.Metrics)
		api.POST("/queue/pause", cfg.GenerateHandler.Pause)
		api.POST("/queue/resume", cfg.GenerateHandler.Resume)
		api.POST("/queue/clear", cfg.GenerateHandler.Clear)

		// athletes
		api.POST("/athletes", cfg.AthleteHandler.Create)
		api.GET("/athletes", cfg.AthleteHandler.List)
		api.GET("/athletes/:id", cfg.AthleteHandler.Get)
		api.PUT("/athletes/:id", cfg.AthleteHandler.Update)
		api.DELETE("/athletes/:id", cfg.AthleteHandler.Delete)

		// events
		api.GET("/events", cfg.SSEHandler.Stream)
	}

	return router
}
