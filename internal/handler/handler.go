package handler

import (
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Chat   *ChatHandler
	System *SystemHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services, log *zap.Logger) *Handlers {
	return &Handlers{
		Chat:   NewChatHandler(svc, log),
		System: NewSystemHandler(svc),
	}
}
