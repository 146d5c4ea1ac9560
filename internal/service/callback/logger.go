// Package callback 提供 Eino Callback 日志与用量统计
package callback

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/logger"
	"github.com/ashwinyue/next-chat/internal/metrics"
)

// Logger 日志回调处理器
// 实现 callbacks.Handler 接口，记录上游模型调用与 token 用量
type Logger struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

var _ callbacks.Handler = (*Logger)(nil)

// NewLogger 创建日志回调处理器
func NewLogger(log *zap.Logger, m *metrics.Metrics) *Logger {
	return &Logger{log: log.Named("eino"), metrics: m}
}

// WithCaller 为一次模型调用初始化回调上下文，caller 用于区分分类与生成
func WithCaller(ctx context.Context, caller string) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      caller,
		Component: components.ComponentOfChatModel,
	})
}

// OnStart 组件执行开始时调用
func (l *Logger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if in := model.ConvCallbackInput(input); in != nil {
		logger.FromContext(ctx, l.log).Debug("model call started",
			zap.String("caller", info.Name),
			zap.Int("messages", len(in.Messages)),
			zap.Int("tools", len(in.Tools)),
		)
	}
	return ctx
}

// OnEnd 组件执行成功结束时调用
func (l *Logger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if out := model.ConvCallbackOutput(output); out != nil {
		l.recordUsage(ctx, info.Name, out.TokenUsage)
	}
	return ctx
}

// OnError 组件执行出错时调用
func (l *Logger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.metrics.UpstreamErrors.WithLabelValues(info.Name).Inc()
	logger.FromContext(ctx, l.log).Warn("model call failed", zap.String("caller", info.Name), zap.Error(err))
	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
func (l *Logger) OnStartWithStreamInput(ctx context.Context, _ *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

// OnEndWithStreamOutput 流式输出结束时调用，用量在最后的帧中
func (l *Logger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	go func() {
		defer output.Close()

		var usage *model.TokenUsage
		for {
			frame, err := output.Recv()
			if err != nil {
				break
			}
			if out := model.ConvCallbackOutput(frame); out != nil && out.TokenUsage != nil {
				usage = out.TokenUsage
			}
		}
		l.recordUsage(ctx, info.Name, usage)
	}()
	return ctx
}

func (l *Logger) recordUsage(ctx context.Context, caller string, usage *model.TokenUsage) {
	if usage == nil {
		return
	}
	l.metrics.UpstreamTokens.WithLabelValues(caller, "prompt").Add(float64(usage.PromptTokens))
	l.metrics.UpstreamTokens.WithLabelValues(caller, "completion").Add(float64(usage.CompletionTokens))
	logger.FromContext(ctx, l.log).Debug("model call finished",
		zap.String("caller", caller),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
}

// SetupGlobalCallbacks 设置全局回调
func SetupGlobalCallbacks(log *zap.Logger, m *metrics.Metrics) {
	callbacks.AppendGlobalHandlers(NewLogger(log, m))
}
