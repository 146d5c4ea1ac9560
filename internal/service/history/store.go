package history

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/model"
	"github.com/ashwinyue/next-chat/internal/repository"
	"github.com/ashwinyue/next-chat/internal/service/session"
)

// ErrInvalidRole 角色不在 system/user/assistant 之内
var ErrInvalidRole = errors.New("invalid message role")

// Store 只追加的会话消息日志
type Store struct {
	repo     repository.ChatRepository
	sessions *session.Store
	log      *zap.Logger
}

// NewStore 创建历史存储
func NewStore(repo repository.ChatRepository, sessions *session.Store, log *zap.Logger) *Store {
	return &Store{repo: repo, sessions: sessions, log: log.Named("history")}
}

// Append 追加一条消息，会话必须已存在
// 角色为空时按 user 处理
func (s *Store) Append(ctx context.Context, msg *model.ChatMessage) error {
	if msg.Role == "" {
		msg.Role = model.RoleUser
	}
	if !model.ValidRole(msg.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	if _, err := s.sessions.Get(ctx, msg.SessionID); err != nil {
		return err
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	s.log.Debug("message appended",
		zap.String("session_id", msg.SessionID),
		zap.String("chat_history_id", msg.ChatHistoryID),
		zap.String("role", msg.Role),
		zap.Int("chars", len([]rune(msg.Content))),
	)
	return nil
}

// Load 按时间顺序读取会话消息，chatHistoryID 为空时读取全部线程
func (s *Store) Load(ctx context.Context, sessionID, chatHistoryID string) ([]*model.ChatMessage, error) {
	messages, err := s.repo.GetMessagesBySessionID(ctx, sessionID, chatHistoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}
