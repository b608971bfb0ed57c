package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/api/handler"
	"github.com/seomaster/report_server/internal/api/middleware"
)

// HealthCheck 返回 nil 表示依赖正常
type HealthCheck func(ctx context.Context) error

type Router struct {
	authHandler      *handler.AuthHandler
	reportHandler    *handler.ReportHandler
	websocketHandler *handler.WebSocketHandler
	health           HealthCheck
	logger           zerolog.Logger
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	reportHandler *handler.ReportHandler,
	websocketHandler *handler.WebSocketHandler,
	health HealthCheck,
	logger zerolog.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		reportHandler:    reportHandler,
		websocketHandler: websocketHandler,
		health:           health,
		logger:           logger,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.logger))
	engine.Use(middleware.Metrics())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", r.healthz)

	limited := middleware.RateLimit(r.cfg.RateLimit)

	api := engine.Group("/api")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		auth.Use(limited)
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/logout", r.authHandler.Logout)
			auth.POST("/send-otp", r.authHandler.SendOTP)
			auth.POST("/verify-otp", r.authHandler.VerifyOTP)
			auth.POST("/forgot-password", r.authHandler.ForgotPassword)
			auth.POST("/verify-reset-otp", r.authHandler.VerifyResetOTP)
			auth.POST("/reset-password", r.authHandler.ResetPassword)
			auth.GET("/me", middleware.Auth(r.cfg.JWT.Secret), r.authHandler.Me)
		}

		// 公开接口 - 分享链接
		api.GET("/reports/public/:id", limited, r.reportHandler.Public)

		// 需要认证的接口
		reports := api.Group("/reports")
		reports.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			reports.POST("", r.reportHandler.Create)
			reports.GET("", r.reportHandler.List)
			reports.GET("/:id", r.reportHandler.Get)
			reports.PATCH("/:id", r.reportHandler.Update)
			reports.DELETE("/:id", r.reportHandler.Delete)
			reports.GET("/:id/jobs", r.reportHandler.Jobs)
		}
	}

	return engine
}

func (r *Router) healthz(c *gin.Context) {
	if r.health != nil {
		if err := r.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
