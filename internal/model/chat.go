package model

import "time"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 访客会话
type ChatSession struct {
	SessionID string        `gorm:"primaryKey;size:36" json:"session_id"`
	UserID    *string       `gorm:"index;size:36" json:"user_id,omitempty"`
	Title     string        `gorm:"size:255;not null;default:''" json:"title"`
	CreatedAt time.Time     `gorm:"autoCreateTime;<-:create" json:"created_at"`
	Messages  []ChatMessage `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

// ChatMessage 会话消息，同一会话内按 CreatedAt 严格递增
type ChatMessage struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatHistoryID string    `gorm:"index;size:64" json:"chat_history_id"`
	SessionID     string    `gorm:"index;size:36;not null" json:"session_id"`
	Role          string    `gorm:"size:20;not null;default:user" json:"role"`
	Action        string    `gorm:"size:64" json:"action,omitempty"`
	Content       string    `gorm:"type:text" json:"content"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ValidRole 是否为允许的角色
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}
