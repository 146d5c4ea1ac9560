package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/handler"
	"github.com/ashwinyue/next-chat/internal/middleware"
	"github.com/ashwinyue/next-chat/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services, log *zap.Logger) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware(log))
	r.Use(middleware.LoggingMiddleware(log.Named("http")))
	r.Use(middleware.CORSMiddleware(svc.Config.CORS))

	// 健康检查与指标
	r.GET("/health", h.System.Health)
	r.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))

	// 聊天
	chat := r.Group("")
	if svc.Config.RateLimit.Enabled {
		chat.Use(middleware.RateLimitMiddleware(newLimiter(svc), svc.Metrics, log))
	}
	{
		chat.GET("/chat_session", h.Chat.GetSession)
		chat.POST("/save_chat", h.Chat.SaveChat)
		chat.GET("/chat_sse", h.Chat.StreamChat)
		chat.GET("/chat_history", h.Chat.GetHistory)
	}

	return r
}

func newLimiter(svc *service.Services) middleware.Limiter {
	cfg := svc.Config.RateLimit
	if svc.Redis != nil {
		return middleware.NewRedisLimiter(svc.Redis, cfg.Requests, cfg.Window)
	}
	return middleware.NewMemoryLimiter(cfg.Requests, cfg.Window)
}
