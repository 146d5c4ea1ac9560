// Package streamer 把模型回复或拒答文本逐段推送给调用方
package streamer

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/service/callback"
	"github.com/ashwinyue/next-chat/internal/service/classifier"
	"github.com/ashwinyue/next-chat/internal/service/history"
)

const finishStop = "stop"

// Outcome 流的结束方式
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // 上游正常结束
	OutcomeTruncated Outcome = "truncated" // 上游因长度等原因提前结束
	OutcomeMalformed Outcome = "malformed" // 上游返回了无法识别的帧
	OutcomeBusy      Outcome = "busy"      // 上游限流、不可用或超时
	OutcomeRefused   Outcome = "refused"   // 走拒答路径
	OutcomeAborted   Outcome = "aborted"   // 调用方断开
)

// Config 推送配置
type Config struct {
	SystemPrompt       string
	UserPromptTemplate string // 包含一个 %s，替换为序列化后的历史
	Temperature        float32
	MaxTokens          int
	Timeout            time.Duration
	RefusalText        string
	BusyText           string
	TruncationWarning  string
	StopToken          string
	RevealDelay        time.Duration
}

// Streamer 回复推送器
type Streamer struct {
	model model.BaseChatModel
	cfg   Config
	log   *zap.Logger
}

// New 创建推送器
func New(chatModel model.BaseChatModel, cfg Config, log *zap.Logger) *Streamer {
	return &Streamer{model: chatModel, cfg: cfg, log: log.Named("streamer")}
}

// Reply 一次回复的事件序列
// Events 关闭之后 Outcome 与 Text 才有效
type Reply struct {
	events  chan string
	outcome Outcome
	text    strings.Builder
	err     error
}

// Events 返回事件通道，序列结束时关闭
func (r *Reply) Events() <-chan string {
	return r.events
}

// Outcome 结束方式
func (r *Reply) Outcome() Outcome {
	return r.outcome
}

// Text 上游生成的正文，不含结束标记和提示语
func (r *Reply) Text() string {
	return r.text.String()
}

// Err 导致非正常结束的上游错误
func (r *Reply) Err() error {
	return r.err
}

// Stream 根据分类结果开始推送；ctx 结束时上游请求随之取消
func (s *Streamer) Stream(ctx context.Context, result classifier.Result, entries []history.Entry) *Reply {
	reply := &Reply{events: make(chan string)}

	go func() {
		defer close(reply.events)
		if result.Related() {
			s.generate(ctx, reply, entries)
		} else {
			s.refuse(ctx, reply)
		}
	}()

	return reply
}

func (s *Streamer) emit(ctx context.Context, reply *Reply, data string) bool {
	select {
	case reply.events <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish 发送结束事件并记录结束方式
func (s *Streamer) finish(ctx context.Context, reply *Reply, outcome Outcome, events ...string) {
	for _, e := range events {
		if !s.emit(ctx, reply, e) {
			reply.outcome = OutcomeAborted
			return
		}
	}
	reply.outcome = outcome
}

func (s *Streamer) generate(ctx context.Context, reply *Reply, entries []history.Entry) {
	genCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	input := []*schema.Message{
		schema.SystemMessage(s.cfg.SystemPrompt),
		schema.UserMessage(renderUserPrompt(s.cfg.UserPromptTemplate, history.Serialize(entries))),
	}

	opts := []model.Option{model.WithTemperature(s.cfg.Temperature)}
	if s.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.cfg.MaxTokens))
	}

	sr, err := s.model.Stream(callback.WithCaller(genCtx, "streamer"), input, opts...)
	if err != nil {
		s.upstreamFailed(ctx, genCtx, reply, err, "")
		return
	}
	defer sr.Close()

	lastFinish := ""
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			s.finish(ctx, reply, OutcomeCompleted, s.cfg.StopToken)
			return
		}
		if err != nil {
			s.upstreamFailed(ctx, genCtx, reply, err, lastFinish)
			return
		}
		if chunk == nil {
			s.upstreamFailed(ctx, genCtx, reply, errors.New("empty stream frame"), lastFinish)
			return
		}

		if chunk.Content != "" {
			reply.text.WriteString(chunk.Content)
			if !s.emit(ctx, reply, chunk.Content) {
				reply.outcome = OutcomeAborted
				return
			}
		}

		if chunk.ResponseMeta == nil || chunk.ResponseMeta.FinishReason == "" {
			continue
		}
		lastFinish = chunk.ResponseMeta.FinishReason
		if lastFinish == finishStop {
			s.finish(ctx, reply, OutcomeCompleted, s.cfg.StopToken)
		} else {
			s.log.Info("generation cut short", zap.String("finish_reason", lastFinish))
			s.finish(ctx, reply, OutcomeTruncated, s.cfg.TruncationWarning)
		}
		return
	}
}

// upstreamFailed 处理上游失败：调用方已断开则直接结束，
// 限流、不可用或超时推送繁忙提示，其余按异常帧处理
func (s *Streamer) upstreamFailed(ctx, genCtx context.Context, reply *Reply, err error, lastFinish string) {
	reply.err = err
	if ctx.Err() != nil {
		reply.outcome = OutcomeAborted
		return
	}

	if classifier.IsTransient(genCtx, err) {
		s.log.Warn("upstream busy", zap.String("reason", string(classifier.UpstreamReason(genCtx, err))), zap.Error(err))
		s.finish(ctx, reply, OutcomeBusy, s.cfg.BusyText, s.cfg.StopToken)
		return
	}

	s.log.Warn("malformed upstream frame", zap.String("last_finish_reason", lastFinish), zap.Error(err))
	if lastFinish == finishStop {
		s.finish(ctx, reply, OutcomeCompleted, s.cfg.StopToken)
		return
	}
	s.finish(ctx, reply, OutcomeMalformed, s.cfg.TruncationWarning)
}

// refuse 逐字推送拒答文本
func (s *Streamer) refuse(ctx context.Context, reply *Reply) {
	text := strings.ReplaceAll(s.cfg.RefusalText, "\n", "<br>")

	var timer *time.Timer
	if s.cfg.RevealDelay > 0 {
		timer = time.NewTimer(s.cfg.RevealDelay)
		defer timer.Stop()
	}

	for _, r := range text {
		if timer != nil {
			select {
			case <-timer.C:
				timer.Reset(s.cfg.RevealDelay)
			case <-ctx.Done():
				reply.outcome = OutcomeAborted
				return
			}
		}
		if !s.emit(ctx, reply, string(r)) {
			reply.outcome = OutcomeAborted
			return
		}
	}
	reply.text.WriteString(s.cfg.RefusalText)
	s.finish(ctx, reply, OutcomeRefused, s.cfg.StopToken)
}

func renderUserPrompt(tmpl, serialized string) string {
	if strings.Contains(tmpl, "%s") {
		return strings.Replace(tmpl, "%s", serialized, 1)
	}
	return tmpl + serialized
}
