// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"
	"errors"

	"github.com/ashwinyue/next-chat/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ChatRepository 会话与消息数据访问接口
type ChatRepository interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	GetSessionByID(ctx context.Context, id string) (*model.ChatSession, error)
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	GetMessagesBySessionID(ctx context.Context, sessionID, chatHistoryID string) ([]*model.ChatMessage, error)
}

// 确保 GormChatRepository 实现了接口
var _ ChatRepository = (*GormChatRepository)(nil)
