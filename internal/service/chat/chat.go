package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/logger"
	"github.com/ashwinyue/next-chat/internal/metrics"
	"github.com/ashwinyue/next-chat/internal/model"
	"github.com/ashwinyue/next-chat/internal/service/classifier"
	"github.com/ashwinyue/next-chat/internal/service/history"
	"github.com/ashwinyue/next-chat/internal/service/session"
	"github.com/ashwinyue/next-chat/internal/service/streamer"
)

// ErrEmptyHistory 会话中没有可回答的消息
var ErrEmptyHistory = errors.New("no messages to answer")

// persistTimeout 回复落库的超时，请求可能已经结束
const persistTimeout = 5 * time.Second

// Classifier 问题分类
type Classifier interface {
	Classify(ctx context.Context, content string) classifier.Result
}

// ReplyStreamer 回复推送
type ReplyStreamer interface {
	Stream(ctx context.Context, result classifier.Result, entries []history.Entry) *streamer.Reply
}

// Options 对话流程选项
type Options struct {
	HistoryBudget  int
	PersistReplies bool
	BusyText       string
	ErrorAction    string
}

// Service 聊天服务，串联会话、历史、分类与推送
type Service struct {
	sessions   *session.Store
	history    *history.Store
	classifier Classifier
	streamer   ReplyStreamer
	registry   *session.StreamRegistry
	metrics    *metrics.Metrics
	opts       Options
	log        *zap.Logger
}

// NewService 创建聊天服务
func NewService(
	sessions *session.Store,
	hist *history.Store,
	cls Classifier,
	str ReplyStreamer,
	registry *session.StreamRegistry,
	m *metrics.Metrics,
	opts Options,
	log *zap.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		history:    hist,
		classifier: cls,
		streamer:   str,
		registry:   registry,
		metrics:    m,
		opts:       opts,
		log:        log.Named("chat"),
	}
}

// SaveMessageRequest 保存消息请求
// message 可以为空，空消息照常保存，由分类决定是否拒答
type SaveMessageRequest struct {
	Message       string   `json:"message"`
	SessionID     string   `json:"session_id" binding:"required"`
	ChatHistoryID ThreadID `json:"chat_history_id"`
}

// SaveMessage 把访客消息追加到会话历史
func (s *Service) SaveMessage(ctx context.Context, req *SaveMessageRequest) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		SessionID:     req.SessionID,
		ChatHistoryID: string(req.ChatHistoryID),
		Role:          model.RoleUser,
		Content:       req.Message,
	}
	if err := s.history.Append(ctx, msg); err != nil {
		return nil, err
	}
	s.metrics.MessagesSaved.WithLabelValues(msg.Role).Inc()
	return msg, nil
}

// GetMessages 获取会话消息
func (s *Service) GetMessages(ctx context.Context, sessionID, chatHistoryID string) ([]*model.ChatMessage, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.history.Load(ctx, sessionID, chatHistoryID)
}

// Turn 一轮进行中的回答
type Turn struct {
	Classification classifier.Result

	reply     *streamer.Reply
	cancel    context.CancelFunc
	closeOnce sync.Once
	finalize  func()
}

// Events 推送事件，序列结束时关闭
func (t *Turn) Events() <-chan string {
	return t.reply.Events()
}

// Close 结束本轮：取消上游、等待推送退出并记录结果，可重复调用
func (t *Turn) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		for range t.reply.Events() {
		}
		t.finalize()
	})
}

// StartTurn 对会话最新的消息开始一轮回答
// 同一会话上一轮未结束的推送会被取消
func (s *Service) StartTurn(ctx context.Context, sessionID, chatHistoryID string) (*Turn, error) {
	defer logger.LogDuration(ctx, s.log, "StartTurn")()
	start := time.Now()
	log := logger.FromContext(ctx, s.log).With(zap.String("session_id", sessionID))

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	messages, err := s.history.Load(ctx, sessionID, chatHistoryID)
	if err != nil {
		return nil, err
	}
	latest := latestUserMessage(messages)
	if latest == nil {
		return nil, ErrEmptyHistory
	}

	turnCtx, cancel := context.WithCancel(ctx)
	active := s.registry.Register(sessionID, cancel)
	s.metrics.ActiveStreams.Inc()

	classified := logger.LogDuration(ctx, s.log, "Classify")
	result := s.classifier.Classify(turnCtx, latest.Content)
	classified()
	s.metrics.Classifications.WithLabelValues(result.Kind.String(), string(result.Reason)).Inc()
	if result.Kind == classifier.KindFailed {
		log.Warn("classification failed, refusing", zap.String("reason", string(result.Reason)), zap.Error(result.Err))
	}

	entries := history.Truncate(history.FromMessages(messages), s.opts.HistoryBudget)
	reply := s.streamer.Stream(turnCtx, result, entries)

	turn := &Turn{
		Classification: result,
		reply:          reply,
		cancel:         cancel,
	}
	turn.finalize = func() {
		s.registry.Unregister(active)
		s.metrics.ActiveStreams.Dec()

		outcome := reply.Outcome()
		s.metrics.Streams.WithLabelValues(string(outcome)).Inc()
		s.metrics.TurnDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
		fields := []zap.Field{
			zap.String("stream_id", active.ID),
			zap.Stringer("kind", result.Kind),
			zap.String("outcome", string(outcome)),
			zap.Int("history_entries", len(entries)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err := reply.Err(); err != nil {
			log.Warn("turn finished with upstream error", append(fields, zap.Error(err))...)
		} else {
			log.Info("turn finished", fields...)
		}

		s.persistReply(ctx, sessionID, chatHistoryID, reply, log)
	}
	return turn, nil
}

// persistReply 按配置保存助手回复，仅保存完整的回复和繁忙提示
func (s *Service) persistReply(ctx context.Context, sessionID, chatHistoryID string, reply *streamer.Reply, log *zap.Logger) {
	if !s.opts.PersistReplies {
		return
	}

	msg := &model.ChatMessage{
		SessionID:     sessionID,
		ChatHistoryID: chatHistoryID,
		Role:          model.RoleAssistant,
	}
	switch reply.Outcome() {
	case streamer.OutcomeCompleted, streamer.OutcomeRefused:
		msg.Content = reply.Text()
	case streamer.OutcomeBusy:
		msg.Content = s.opts.BusyText
		msg.Action = s.opts.ErrorAction
	default:
		return
	}
	if msg.Content == "" {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.history.Append(saveCtx, msg); err != nil {
		log.Error("failed to persist reply", zap.Error(err))
		return
	}
	s.metrics.MessagesSaved.WithLabelValues(msg.Role).Inc()
}

// latestUserMessage 返回最新的用户消息，没有用户消息时返回最新一条
func latestUserMessage(messages []*model.ChatMessage) *model.ChatMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i]
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1]
	}
	return nil
}

// ThreadID 对话线程 ID，兼容前端以数字或字符串传入
type ThreadID string

// UnmarshalJSON 实现 json.Unmarshaler
func (t *ThreadID) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch {
	case s == "null":
		*t = ""
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*t = ThreadID(v)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("chat_history_id must be a string or number: %w", err)
		}
		*t = ThreadID(n.String())
	}
	return nil
}
