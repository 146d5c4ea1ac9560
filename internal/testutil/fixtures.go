// Package testutil 提供测试辅助工具
package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ashwinyue/next-chat/internal/config"
	"github.com/ashwinyue/next-chat/internal/database"
)

// TestConfig 返回测试用配置：sqlite 内存库、无 Redis、无逐字延迟
func TestConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "next-chat-test", Environment: "test"},
		Server: config.ServerConfig{Mode: "test"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   ":memory:",
		},
		Log: config.LogConfig{Level: "debug", Format: "console"},
		AI: config.AIConfig{
			Provider:        "openai",
			APIKey:          "sk-test",
			Model:           "gpt-3.5-turbo",
			Temperature:     0.5,
			MaxTokens:       500,
			ClassifyTimeout: 2 * time.Second,
			GenerateTimeout: 5 * time.Second,
		},
		Chat: config.ChatConfig{
			HistoryBudget:      2000,
			SystemPrompt:       "system prompt",
			ClassifierPrompt:   "classifier prompt",
			UserPromptTemplate: "history:\n%s\n",
			RefusalText:        "私はAIです。\nお答えできません。",
			BusyText:           "busy",
			TruncationWarning:  "stop_too_long",
			StopToken:          "stop",
			ErrorAction:        "エラーメッセージ",
		},
		Session: config.SessionConfig{
			Secret:       "test-secret",
			CookieName:   "chat_session",
			CookiePath:   "/",
			CookieMaxAge: time.Hour,
		},
		CORS: config.CORSConfig{
			AllowOrigins:     []string{"http://localhost:8080"},
			AllowCredentials: true,
		},
		RateLimit: config.RateLimitConfig{Requests: 6, Window: time.Minute},
	}
}

// NewLogger 返回写入 t.Log 的日志器
func NewLogger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewTestDB 创建已迁移的 sqlite 内存数据库
func NewTestDB(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.New(TestConfig(), NewLogger(t))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
