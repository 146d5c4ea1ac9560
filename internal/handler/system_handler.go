package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-chat/internal/service"
)

const healthTimeout = 2 * time.Second

// SystemHandler 系统处理器
type SystemHandler struct {
	svc *service.Services
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(svc *service.Services) *SystemHandler {
	return &SystemHandler{svc: svc}
}

// Health 检查数据库与 Redis 连接
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{"database": "ok"}
	healthy := true

	if err := h.svc.DB.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if h.svc.Redis != nil {
		checks["redis"] = "ok"
		if err := h.svc.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	Success(c, gin.H{
		"status":         "ok",
		"version":        h.svc.Config.App.Version,
		"active_streams": h.svc.Registry.Len(),
		"checks":         checks,
	})
}
