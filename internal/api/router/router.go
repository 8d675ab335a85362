package router

import (
	"resume-tailor/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Resume     *handler.ResumeHandler
	Generation *handler.GenerationHandler
	Profile    *handler.ProfileHandler
	Health     handler.HealthChecker
}

// RegisterRoutes 注册 API 路由，除回调与健康检查外都需要 Bearer 鉴权
func RegisterRoutes(h *server.Hertz, hs Handlers, authMiddleware app.HandlerFunc) {
	api := h.Group("/api/v1")
	api.GET("/healthz", handler.HandleHealthz(hs.Health))

	// 支付回调使用签名校验
	api.POST("/webhooks/subscription", hs.Profile.HandleSubscriptionWebhook)

	secured := api.Group("", authMiddleware)
	secured.GET("/uploads/url", hs.Resume.HandleUploadURL)
	secured.GET("/files", hs.Resume.HandleListFiles)
	secured.GET("/files/:fileId", hs.Resume.HandleGetFile)

	secured.POST("/generations", hs.Generation.HandleStartGeneration)
	secured.GET("/generations", hs.Generation.HandleListGenerations)
	secured.GET("/generations/status", hs.Generation.HandleGenerationStatus)

	secured.GET("/profile", hs.Profile.HandleGetProfile)
	secured.POST("/profile", hs.Profile.HandleSaveProfile)
}
