package app

import (
	"speaking_backend/internal/config"
	"speaking_backend/internal/middleware"
	"speaking_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 口语评测（需登录）
	speaking := router.Group("/api/speaking")
	speaking.Use(middleware.AuthMiddleware(cfg.JWT.Secret), a.limiter.Middleware())
	{
		speaking.POST("/submit", c.speaking.Submit)
		speaking.POST("/recognize", c.speaking.Recognize)

		attempts := speaking.Group("/attempts/:id")
		attempts.GET("/validate", c.speaking.ValidateAttempt)
		attempts.POST("/complete", c.speaking.CompleteAttempt)
		attempts.GET("/summary", c.speaking.AttemptSummary)
	}

	// 3. 管理员接口
	admin := router.Group("/api/admin/speaking")
	admin.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(middleware.RoleAdmin))
	{
		admin.GET("/rescore", c.speaking.Rescore)
	}
}
