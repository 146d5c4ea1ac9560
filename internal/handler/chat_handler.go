package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/logger"
	"github.com/ashwinyue/next-chat/internal/service"
	"github.com/ashwinyue/next-chat/internal/service/chat"
	"github.com/ashwinyue/next-chat/internal/service/session"
)

const savedMessage = "Chat history saved successfully"

// ChatHandler 聊天处理器
type ChatHandler struct {
	svc *service.Services
	log *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(svc *service.Services, log *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: log.Named("handler")}
}

// GetSession 返回调用方的会话 ID，必要时创建会话并签发 Cookie
// GET /chat_session
func (h *ChatHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	cfg := h.svc.Config.Session

	presented := ""
	if token, err := c.Cookie(cfg.CookieName); err == nil && token != "" {
		if sid, err := h.svc.Tokens.Parse(token); err == nil {
			presented = sid
		}
	}

	sess, err := h.svc.Sessions.GetOrCreate(ctx, presented)
	if err != nil {
		logger.FromContext(ctx, h.log).Error("failed to get session", zap.Error(err))
		InternalServerError(c, "failed to create session")
		return
	}

	token, err := h.svc.Tokens.Issue(sess.SessionID)
	if err != nil {
		logger.FromContext(ctx, h.log).Error("failed to sign session cookie", zap.Error(err))
		InternalServerError(c, "failed to create session")
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, token, int(cfg.CookieMaxAge.Seconds()), cfg.CookiePath, "", cfg.CookieSecure, true)

	Success(c, SessionResponse{SessionID: sess.SessionID})
}

// SaveChat 保存访客消息
// POST /save_chat
func (h *ChatHandler) SaveChat(c *gin.Context) {
	var req chat.SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if _, err := h.svc.Chat.SaveMessage(c.Request.Context(), &req); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			NotFound(c, "Session not found")
			return
		}
		logger.FromContext(c.Request.Context(), h.log).Error("failed to save message", zap.Error(err))
		InternalServerError(c, "failed to save message")
		return
	}

	Success(c, SuccessResponse{Success: savedMessage})
}

// StreamChat 对会话最新的消息推送回答
// GET /chat_sse?data=<session_id>&chat_history_id=<thread>
func (h *ChatHandler) StreamChat(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Query("data")
	if sessionID == "" {
		BadRequest(c, "data is required")
		return
	}

	turn, err := h.svc.Chat.StartTurn(ctx, sessionID, c.Query("chat_history_id"))
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		NotFound(c, "Session not found")
		return
	case errors.Is(err, chat.ErrEmptyHistory):
		NoContent(c)
		return
	case err != nil:
		logger.FromContext(ctx, h.log).Error("failed to start turn", zap.Error(err))
		InternalServerError(c, "failed to start chat")
		return
	}
	defer turn.Close()

	// 设置 SSE 响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-turn.Events():
			if !ok {
				return
			}
			c.SSEvent("", event)
			c.Writer.Flush()
		}
	}
}

// GetHistory 获取会话消息
// GET /chat_history?session_id=<id>&chat_history_id=<thread>
func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		BadRequest(c, "session_id is required")
		return
	}

	messages, err := h.svc.Chat.GetMessages(c.Request.Context(), sessionID, c.Query("chat_history_id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			NotFound(c, "Session not found")
			return
		}
		logger.FromContext(c.Request.Context(), h.log).Error("failed to load history", zap.Error(err))
		InternalServerError(c, "failed to load history")
		return
	}

	Success(c, gin.H{"messages": messages})
}
