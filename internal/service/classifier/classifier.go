// Package classifier 判断访客问题是否属于服务领域
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/service/callback"
)

// ToolName 强制调用的函数名
const ToolName = "user_question_to_answer"

// Kind 问题类别
type Kind int

const (
	// KindFailed 分类失败
	KindFailed Kind = iota
	// KindRelated 与站点领域相关
	KindRelated
	// KindGeneral 与站点无关的一般问题
	KindGeneral
	// KindOther 不当内容等
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRelated:
		return "related"
	case KindGeneral:
		return "general"
	case KindOther:
		return "other"
	default:
		return "failed"
	}
}

// FailureReason 分类失败原因
type FailureReason string

const (
	ReasonUpstreamRateLimited FailureReason = "upstream_rate_limited"
	ReasonUpstreamUnavailable FailureReason = "upstream_unavailable"
	ReasonUpstreamTimeout     FailureReason = "upstream_timeout"
	ReasonUpstreamError       FailureReason = "upstream_error"
	ReasonNoToolCall          FailureReason = "no_tool_call"
	ReasonWrongTool           FailureReason = "wrong_tool"
	ReasonBadArguments        FailureReason = "bad_arguments"
	ReasonUnknownKind         FailureReason = "unknown_kind"
)

// Result 分类结果
type Result struct {
	Kind     Kind
	Question string        // 模型给出的问题摘要
	Reason   FailureReason // 仅 KindFailed 时有效
	Err      error         // 仅 KindFailed 时有效
}

// Related 是否走生成路径
func (r Result) Related() bool {
	return r.Kind == KindRelated
}

// Failed 构造失败结果
func Failed(reason FailureReason, err error) Result {
	return Result{Kind: KindFailed, Reason: reason, Err: err}
}

// Classifier 问题分类器
type Classifier struct {
	model        model.ToolCallingChatModel
	systemPrompt string
	timeout      time.Duration
	log          *zap.Logger
}

// New 创建分类器，把分类函数绑定到模型上
func New(chatModel model.ToolCallingChatModel, systemPrompt string, timeout time.Duration, log *zap.Logger) (*Classifier, error) {
	bound, err := chatModel.WithTools([]*schema.ToolInfo{ToolInfo()})
	if err != nil {
		return nil, fmt.Errorf("failed to bind classifier tool: %w", err)
	}
	return &Classifier{
		model:        bound,
		systemPrompt: systemPrompt,
		timeout:      timeout,
		log:          log.Named("classifier"),
	}, nil
}

// ToolInfo 返回分类函数的定义
func ToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: "ユーザーからの質問内容を受け、回答します。",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"question": {
				Type:     schema.String,
				Desc:     "ユーザーからの質問の内容要約。",
				Required: true,
			},
			"kind": {
				Type:     schema.String,
				Desc:     "質問の種別。例1）general = 運営しているHPと関係のない質問。例2）related = 運営しているHPと関係のある質問。例3）other = 暴言などの不適切な質問。",
				Enum:     []string{"general", "related", "other"},
				Required: true,
			},
		}),
	}
}

type arguments struct {
	Question string `json:"question"`
	Kind     string `json:"kind"`
}

// Classify 对最新一条用户消息分类，不做重试
func (c *Classifier) Classify(ctx context.Context, content string) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.model.Generate(callback.WithCaller(ctx, "classifier"), []*schema.Message{
		schema.SystemMessage(c.systemPrompt),
		schema.UserMessage(content),
	}, model.WithToolChoice(schema.ToolChoiceForced))
	if err != nil {
		reason := UpstreamReason(ctx, err)
		c.log.Warn("classification call failed", zap.String("reason", string(reason)), zap.Error(err))
		return Failed(reason, err)
	}

	result := parse(msg)
	if result.Kind == KindFailed {
		c.log.Warn("classification rejected", zap.String("reason", string(result.Reason)), zap.Error(result.Err))
	} else {
		c.log.Debug("question classified", zap.Stringer("kind", result.Kind), zap.String("question", result.Question))
	}
	return result
}

func parse(msg *schema.Message) Result {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return Failed(ReasonNoToolCall, errors.New("forced function call was not invoked"))
	}

	call := msg.ToolCalls[0]
	if call.Function.Name != ToolName {
		return Failed(ReasonWrongTool, fmt.Errorf("unexpected function %q", call.Function.Name))
	}

	var args arguments
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(call.Function.Arguments)
		if rerr != nil {
			return Failed(ReasonBadArguments, fmt.Errorf("failed to repair arguments: %w", rerr))
		}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return Failed(ReasonBadArguments, fmt.Errorf("failed to decode arguments: %w", err))
		}
	}

	kind, ok := parseKind(args.Kind)
	if !ok {
		return Failed(ReasonUnknownKind, fmt.Errorf("unknown kind %q", args.Kind))
	}
	return Result{Kind: kind, Question: args.Question}
}

func parseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "related":
		return KindRelated, true
	case "general":
		return KindGeneral, true
	case "other":
		return KindOther, true
	}
	return KindFailed, false
}
