package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// FakeChatModel 可编程的 ToolCallingChatModel
type FakeChatModel struct {
	mu sync.Mutex

	GenerateFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)
	StreamFunc   func(ctx context.Context, input []*schema.Message) (*schema.StreamReader[*schema.Message], error)

	tools          []*schema.ToolInfo
	generateCalls  int
	streamCalls    int
	generateInput  []*schema.Message
	streamInput    []*schema.Message
	generateOption *model.Options
	streamOption   *model.Options
}

var _ model.ToolCallingChatModel = (*FakeChatModel)(nil)

// Generate 实现 model.BaseChatModel
func (m *FakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.generateCalls++
	m.generateInput = input
	m.generateOption = model.GetCommonOptions(nil, opts...)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, errors.New("generate not configured")
	}
	return fn(ctx, input)
}

// Stream 实现 model.BaseChatModel
func (m *FakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.streamCalls++
	m.streamInput = input
	m.streamOption = model.GetCommonOptions(nil, opts...)
	fn := m.StreamFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, errors.New("stream not configured")
	}
	return fn(ctx, input)
}

// WithTools 记录绑定的工具并返回自身
func (m *FakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

// GenerateCalls 返回 Generate 调用次数
func (m *FakeChatModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// StreamCalls 返回 Stream 调用次数
func (m *FakeChatModel) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// Tools 返回最近一次绑定的工具
func (m *FakeChatModel) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// LastGenerate 返回最近一次 Generate 的输入和选项
func (m *FakeChatModel) LastGenerate() ([]*schema.Message, *model.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateInput, m.generateOption
}

// LastStream 返回最近一次 Stream 的输入和选项
func (m *FakeChatModel) LastStream() ([]*schema.Message, *model.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamInput, m.streamOption
}

// ToolCallMessage 构造包含一次工具调用的 assistant 消息
func ToolCallMessage(name, arguments string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: arguments},
		}},
	}
}

// Chunk 构造流式增量消息，finishReason 为空表示未结束
func Chunk(content, finishReason string) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: content}
	if finishReason != "" {
		msg.ResponseMeta = &schema.ResponseMeta{FinishReason: finishReason}
	}
	return msg
}

// StreamOf 返回依次产出 chunks 的流
func StreamOf(chunks ...*schema.Message) *schema.StreamReader[*schema.Message] {
	return schema.StreamReaderFromArray(chunks)
}

// StreamWithError 先产出 chunks，再返回 err
func StreamWithError(err error, chunks ...*schema.Message) *schema.StreamReader[*schema.Message] {
	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 1)
	for _, c := range chunks {
		sw.Send(c, nil)
	}
	sw.Send(nil, err)
	sw.Close()
	return sr
}

// BlockingStream 产出 chunks 后阻塞，ctx 结束时返回 ctx.Err()
func BlockingStream(ctx context.Context, chunks ...*schema.Message) *schema.StreamReader[*schema.Message] {
	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			if closed := sw.Send(c, nil); closed {
				return
			}
		}
		<-ctx.Done()
		sw.Send(nil, ctx.Err())
	}()
	return sr
}
