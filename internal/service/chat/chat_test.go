// Package chat 提供 Chat 服务单元测试
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ashwinyue/next-chat/internal/metrics"
	"github.com/ashwinyue/next-chat/internal/model"
	"github.com/ashwinyue/next-chat/internal/repository"
	"github.com/ashwinyue/next-chat/internal/service/classifier"
	"github.com/ashwinyue/next-chat/internal/service/history"
	"github.com/ashwinyue/next-chat/internal/service/session"
	"github.com/ashwinyue/next-chat/internal/service/streamer"
	"github.com/ashwinyue/next-chat/internal/testutil"
)

const refusal = "お答えできません"

type testEnv struct {
	svc      *Service
	sessions *session.Store
	logs     *observer.ObservedLogs
	model    *testutil.FakeChatModel
	metrics  *metrics.Metrics
	registry *session.StreamRegistry
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(zapcore.NewTee(testutil.NewLogger(t).Core(), core))
	db := testutil.NewTestDB(t)
	repo := repository.NewChatRepository(db.DB)

	sessions := session.NewStore(repo, log)
	hist := history.NewStore(repo, sessions, log)

	fake := &testutil.FakeChatModel{}
	cls, err := classifier.New(fake, "classifier", time.Second, log)
	require.NoError(t, err)

	str := streamer.New(fake, streamer.Config{
		SystemPrompt:       "system",
		UserPromptTemplate: "%s",
		Temperature:        0.5,
		MaxTokens:          500,
		Timeout:            time.Second,
		RefusalText:        refusal,
		BusyText:           "busy",
		TruncationWarning:  "stop_warn",
		StopToken:          "stop",
	}, log)

	if opts.HistoryBudget == 0 {
		opts.HistoryBudget = 2000
	}
	if opts.BusyText == "" {
		opts.BusyText = "busy"
	}
	if opts.ErrorAction == "" {
		opts.ErrorAction = "エラーメッセージ"
	}

	m := metrics.New()
	registry := session.NewStreamRegistry()
	return &testEnv{
		svc:      NewService(sessions, hist, cls, str, registry, m, opts, log),
		sessions: sessions,
		logs:     logs,
		model:    fake,
		metrics:  m,
		registry: registry,
	}
}

func (e *testEnv) classifyAs(kind string) {
	e.model.GenerateFunc = func(context.Context, []*schema.Message) (*schema.Message, error) {
		return testutil.ToolCallMessage(classifier.ToolName, `{"question":"q","kind":"`+kind+`"}`), nil
	}
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	sess, err := e.sessions.GetOrCreate(context.Background(), "")
	require.NoError(t, err)
	return sess.SessionID
}

func (e *testEnv) save(t *testing.T, sessionID, content string) {
	t.Helper()
	_, err := e.svc.SaveMessage(context.Background(), &SaveMessageRequest{
		Message:   content,
		SessionID: sessionID,
	})
	require.NoError(t, err)
}

func drain(t *testing.T, turn *Turn) []string {
	t.Helper()
	var events []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-turn.Events():
			if !ok {
				turn.Close()
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("turn did not finish, got %v", events)
		}
	}
}

// ========== 测试用例 ==========

func TestSaveMessage(t *testing.T) {
	tests := []struct {
		name      string
		sessionID func(env *testEnv, t *testing.T) string
		wantErr   error
	}{
		{
			name:      "known session",
			sessionID: func(env *testEnv, t *testing.T) string { return env.newSession(t) },
		},
		{
			name:      "unknown session",
			sessionID: func(*testEnv, *testing.T) string { return uuid.New().String() },
			wantErr:   session.ErrSessionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			id := tt.sessionID(env, t)

			msg, err := env.svc.SaveMessage(context.Background(), &SaveMessageRequest{
				Message:       "介護の資格について",
				SessionID:     id,
				ChatHistoryID: "1",
			})

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.RoleUser, msg.Role)
			assert.Equal(t, "1", msg.ChatHistoryID)
			assert.Equal(t, 1.0, prom.ToFloat64(env.metrics.MessagesSaved.WithLabelValues("user")))

			stored, err := env.svc.GetMessages(context.Background(), id, "")
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "介護の資格について", stored[0].Content)
		})
	}
}

func TestStartTurnRouting(t *testing.T) {
	tests := []struct {
		name        string
		kind        string
		wantEvents  []string
		wantStreams int
	}{
		{name: "related goes to generation", kind: "related", wantEvents: []string{"回答", "stop"}, wantStreams: 1},
		{name: "general is refused", kind: "general", wantStreams: 0},
		{name: "other is refused", kind: "other", wantStreams: 0},
		{name: "unknown kind is refused", kind: "weird", wantStreams: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			env.classifyAs(tt.kind)
			env.model.StreamFunc = func(context.Context, []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
				return testutil.StreamOf(testutil.Chunk("回答", ""), testutil.Chunk("", "stop")), nil
			}

			id := env.newSession(t)
			env.save(t, id, "質問")

			turn, err := env.svc.StartTurn(context.Background(), id, "")
			require.NoError(t, err)
			events := drain(t, turn)

			if tt.wantEvents != nil {
				assert.Equal(t, tt.wantEvents, events)
			} else {
				assert.Equal(t, refusal, strings.Join(events[:len(events)-1], ""))
				assert.Equal(t, "stop", events[len(events)-1])
			}
			assert.Equal(t, tt.wantStreams, env.model.StreamCalls())
			assert.Equal(t, 1, env.model.GenerateCalls())
		})
	}
}

func TestStartTurnOtherEmitsRefusalPerCharacter(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("other")

	id := env.newSession(t)
	env.save(t, id, "バカ")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	events := drain(t, turn)

	want := []string{}
	for _, r := range refusal {
		want = append(want, string(r))
	}
	want = append(want, "stop")
	assert.Equal(t, want, events)
	assert.Equal(t, 0, env.model.StreamCalls())
	assert.Equal(t, classifier.KindOther, turn.Classification.Kind)
}

func TestStartTurnClassifierFailureRefuses(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.model.GenerateFunc = func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("error, status code: 429, message: rate limit")
	}

	id := env.newSession(t)
	env.save(t, id, "質問")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	events := drain(t, turn)

	assert.Equal(t, "stop", events[len(events)-1])
	assert.Equal(t, 0, env.model.StreamCalls())
	assert.Equal(t, classifier.ReasonUpstreamRateLimited, turn.Classification.Reason)
	assert.Equal(t, 1.0, prom.ToFloat64(env.metrics.Classifications.WithLabelValues("failed", "upstream_rate_limited")))
}

func TestStartTurnLogsUpstreamError(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("related")
	env.model.StreamFunc = func(context.Context, []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return nil, errors.New("error, status code: 503, message: overloaded")
	}

	id := env.newSession(t)
	env.save(t, id, "質問")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"busy", "stop"}, drain(t, turn))

	failed := env.logs.FilterMessage("turn finished with upstream error").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Contains(t, failed[0].ContextMap()["error"], "status code: 503")
	assert.Equal(t, 0, env.logs.FilterMessage("turn finished").Len())
}

func TestStartTurnLogsTimings(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("other")

	id := env.newSession(t)
	env.save(t, id, "天気は？")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	drain(t, turn)

	timed := env.logs.FilterMessage("function timed")
	assert.Equal(t, 1, timed.FilterField(zap.String("func", "Classify")).Len())
	assert.Equal(t, 1, timed.FilterField(zap.String("func", "StartTurn")).Len())
	assert.Equal(t, 1, env.logs.FilterMessage("turn finished").Len())
}

func TestStartTurnErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.StartTurn(context.Background(), uuid.New().String(), "")
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))

	id := env.newSession(t)
	_, err = env.svc.StartTurn(context.Background(), id, "")
	assert.True(t, errors.Is(err, ErrEmptyHistory))

	assert.Equal(t, 0, env.model.GenerateCalls())
	assert.Equal(t, 0, env.registry.Len())
}

func TestStartTurnUsesTruncatedHistory(t *testing.T) {
	env := newTestEnv(t, Options{HistoryBudget: 20})
	env.classifyAs("related")
	env.model.StreamFunc = func(context.Context, []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return testutil.StreamOf(testutil.Chunk("", "stop")), nil
	}

	id := env.newSession(t)
	env.save(t, id, strings.Repeat("x", 100))
	env.save(t, id, "latest")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	drain(t, turn)

	input, _ := env.model.LastStream()
	require.Len(t, input, 2)
	// "user:latest\n" 占 12，较早一条保留剩余的 8 个字符
	assert.Equal(t, "user:xxxxxxxx\nuser:latest\n", input[1].Content)

	gen, _ := env.model.LastGenerate()
	assert.Equal(t, "latest", gen[1].Content)
}

func TestStartTurnThreadFilter(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("related")
	env.model.StreamFunc = func(context.Context, []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return testutil.StreamOf(testutil.Chunk("", "stop")), nil
	}

	id := env.newSession(t)
	for _, m := range []struct{ thread, content string }{{"a", "a1"}, {"b", "b1"}, {"a", "a2"}} {
		_, err := env.svc.SaveMessage(context.Background(), &SaveMessageRequest{
			Message: m.content, SessionID: id, ChatHistoryID: ThreadID(m.thread),
		})
		require.NoError(t, err)
	}

	turn, err := env.svc.StartTurn(context.Background(), id, "b")
	require.NoError(t, err)
	drain(t, turn)

	gen, _ := env.model.LastGenerate()
	assert.Equal(t, "b1", gen[1].Content)
	input, _ := env.model.LastStream()
	assert.Equal(t, "user:b1\n", input[1].Content)
}

func TestPersistReplies(t *testing.T) {
	tests := []struct {
		name        string
		persist     bool
		kind        string
		stream      func(ctx context.Context) (*schema.StreamReader[*schema.Message], error)
		wantContent string
		wantAction  string
	}{
		{
			name:    "disabled",
			persist: false,
			kind:    "related",
			stream: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
				return testutil.StreamOf(testutil.Chunk("ok", "stop")), nil
			},
		},
		{
			name:    "completed reply",
			persist: true,
			kind:    "related",
			stream: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
				return testutil.StreamOf(testutil.Chunk("介護", ""), testutil.Chunk("です", "stop")), nil
			},
			wantContent: "介護です",
		},
		{
			name:    "busy placeholder",
			persist: true,
			kind:    "related",
			stream: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
				return nil, errors.New("status code: 503")
			},
			wantContent: "busy",
			wantAction:  "エラーメッセージ",
		},
		{
			name:        "refusal",
			persist:     true,
			kind:        "general",
			wantContent: refusal,
		},
		{
			name:    "length cut is not saved",
			persist: true,
			kind:    "related",
			stream: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
				return testutil.StreamOf(testutil.Chunk("part", "length")), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{PersistReplies: tt.persist})
			env.classifyAs(tt.kind)
			if tt.stream != nil {
				env.model.StreamFunc = func(ctx context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
					return tt.stream(ctx)
				}
			}

			id := env.newSession(t)
			env.save(t, id, "質問")

			turn, err := env.svc.StartTurn(context.Background(), id, "")
			require.NoError(t, err)
			drain(t, turn)

			stored, err := env.svc.GetMessages(context.Background(), id, "")
			require.NoError(t, err)

			if tt.wantContent == "" {
				assert.Len(t, stored, 1)
				return
			}
			require.Len(t, stored, 2)
			assert.Equal(t, model.RoleAssistant, stored[1].Role)
			assert.Equal(t, tt.wantContent, stored[1].Content)
			assert.Equal(t, tt.wantAction, stored[1].Action)
		})
	}
}

func TestNewTurnCancelsPrevious(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("related")

	calls := 0
	env.model.StreamFunc = func(ctx context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		calls++
		if calls == 1 {
			return testutil.BlockingStream(ctx, testutil.Chunk("first", "")), nil
		}
		return testutil.StreamOf(testutil.Chunk("second", "stop")), nil
	}

	id := env.newSession(t)
	env.save(t, id, "質問")

	first, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, "first", <-first.Events())

	second, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)

	// 旧的推送被取消后事件通道关闭
	assert.Empty(t, drain(t, first))
	assert.Equal(t, []string{"second", "stop"}, drain(t, second))
	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, 0.0, prom.ToFloat64(env.metrics.ActiveStreams))
	assert.Equal(t, 1.0, prom.ToFloat64(env.metrics.Streams.WithLabelValues("aborted")))
	assert.Equal(t, 1.0, prom.ToFloat64(env.metrics.Streams.WithLabelValues("completed")))
}

func TestTurnCloseBeforeDrain(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.classifyAs("related")
	env.model.StreamFunc = func(ctx context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return testutil.BlockingStream(ctx, testutil.Chunk("a", "")), nil
	}

	id := env.newSession(t)
	env.save(t, id, "質問")

	turn, err := env.svc.StartTurn(context.Background(), id, "")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		turn.Close()
		turn.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 0, env.registry.Len())
}

func TestThreadIDUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    ThreadID
		wantErr bool
	}{
		{name: "string", body: `{"chat_history_id":"abc"}`, want: "abc"},
		{name: "number", body: `{"chat_history_id":12}`, want: "12"},
		{name: "null", body: `{"chat_history_id":null}`, want: ""},
		{name: "missing", body: `{}`, want: ""},
		{name: "bool", body: `{"chat_history_id":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SaveMessageRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.ChatHistoryID)
		})
	}
}

func TestLatestUserMessage(t *testing.T) {
	assert.Nil(t, latestUserMessage(nil))

	msgs := []*model.ChatMessage{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
	}
	assert.Equal(t, "q1", latestUserMessage(msgs).Content)

	only := []*model.ChatMessage{{Role: model.RoleAssistant, Content: "a"}}
	assert.Equal(t, "a", latestUserMessage(only).Content)
}
