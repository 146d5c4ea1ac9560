package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ashwinyue/next-chat/internal/metrics"
)

func newTestLogger() (*Logger, *metrics.Metrics, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New()
	return NewLogger(zap.New(core), m), m, logs
}

func TestOnEndRecordsUsage(t *testing.T) {
	l, m, logs := newTestLogger()
	info := &callbacks.RunInfo{Name: "classifier"}

	l.OnEnd(context.Background(), info, &model.CallbackOutput{
		Message:    schema.AssistantMessage("", nil),
		TokenUsage: &model.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	})

	assert.Equal(t, 12.0, prom.ToFloat64(m.UpstreamTokens.WithLabelValues("classifier", "prompt")))
	assert.Equal(t, 3.0, prom.ToFloat64(m.UpstreamTokens.WithLabelValues("classifier", "completion")))
	assert.Equal(t, 1, logs.FilterMessage("model call finished").Len())
}

func TestOnEndWithoutUsage(t *testing.T) {
	l, m, logs := newTestLogger()

	l.OnEnd(context.Background(), &callbacks.RunInfo{Name: "classifier"}, &model.CallbackOutput{})

	assert.Equal(t, 0, prom.CollectAndCount(m.UpstreamTokens))
	assert.Equal(t, 0, logs.Len())
}

func TestOnError(t *testing.T) {
	l, m, logs := newTestLogger()

	l.OnError(context.Background(), &callbacks.RunInfo{Name: "streamer"}, errors.New("status code: 503"))

	assert.Equal(t, 1.0, prom.ToFloat64(m.UpstreamErrors.WithLabelValues("streamer")))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestOnEndWithStreamOutput(t *testing.T) {
	l, m, _ := newTestLogger()

	frames := []callbacks.CallbackOutput{
		&model.CallbackOutput{Message: schema.AssistantMessage("a", nil)},
		&model.CallbackOutput{
			Message:    schema.AssistantMessage("b", nil),
			TokenUsage: &model.TokenUsage{PromptTokens: 20, CompletionTokens: 2},
		},
	}
	l.OnEndWithStreamOutput(context.Background(), &callbacks.RunInfo{Name: "streamer"}, schema.StreamReaderFromArray(frames))

	assert.Eventually(t, func() bool {
		return prom.ToFloat64(m.UpstreamTokens.WithLabelValues("streamer", "completion")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 20.0, prom.ToFloat64(m.UpstreamTokens.WithLabelValues("streamer", "prompt")))
}

func TestWithCaller(t *testing.T) {
	ctx := WithCaller(context.Background(), "classifier")
	assert.NotNil(t, ctx)
}
