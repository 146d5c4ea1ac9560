package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashwinyue/next-chat/internal/model"
)

// GormChatRepository 聊天数据访问
type GormChatRepository struct {
	db    *gorm.DB
	clock *StampClock
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db, clock: NewStampClock(time.Now)}
}

// CreateSession 创建会话，主键已存在时不做任何修改
func (r *GormChatRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(session).Error
}

// GetSessionByID 获取会话
func (r *GormChatRepository) GetSessionByID(ctx context.Context, id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateMessage 追加消息
// CreatedAt 由仓库统一分配，保证严格递增
func (r *GormChatRepository) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	msg.CreatedAt = r.clock.Next()
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetMessagesBySessionID 按时间顺序获取会话消息
// chatHistoryID 非空时只返回该对话线程的消息
func (r *GormChatRepository) GetMessagesBySessionID(ctx context.Context, sessionID, chatHistoryID string) ([]*model.ChatMessage, error) {
	var messages []*model.ChatMessage
	query := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if chatHistoryID != "" {
		query = query.Where("chat_history_id = ?", chatHistoryID)
	}
	err := query.Order("created_at ASC").Order("id ASC").Find(&messages).Error
	return messages, err
}

// StampClock 单调递增的时间戳发生器，精度为微秒
type StampClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewStampClock 创建时间戳发生器
func NewStampClock(now func() time.Time) *StampClock {
	return &StampClock{now: now}
}

// Next 返回严格大于上一次结果的时间
func (c *StampClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
