package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-chat/internal/model"
	"github.com/ashwinyue/next-chat/internal/testutil"
)

func newTestRepo(t *testing.T) *GormChatRepository {
	t.Helper()
	return NewChatRepository(testutil.NewTestDB(t).DB)
}

func TestCreateSessionKeepsExisting(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{SessionID: "s1", Title: "first"}))
	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{SessionID: "s1", Title: "second"}))

	got, err := repo.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestGetSessionByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetSessionByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetMessagesBySessionID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{SessionID: "s1"}))
	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{SessionID: "s2"}))

	for _, m := range []*model.ChatMessage{
		{SessionID: "s1", ChatHistoryID: "a", Role: model.RoleUser, Content: "1"},
		{SessionID: "s2", ChatHistoryID: "a", Role: model.RoleUser, Content: "other"},
		{SessionID: "s1", ChatHistoryID: "b", Role: model.RoleUser, Content: "2"},
		{SessionID: "s1", ChatHistoryID: "a", Role: model.RoleAssistant, Content: "3"},
	} {
		require.NoError(t, repo.CreateMessage(ctx, m))
	}

	tests := []struct {
		name          string
		sessionID     string
		chatHistoryID string
		want          []string
	}{
		{name: "all threads", sessionID: "s1", want: []string{"1", "2", "3"}},
		{name: "one thread", sessionID: "s1", chatHistoryID: "a", want: []string{"1", "3"}},
		{name: "unknown thread", sessionID: "s1", chatHistoryID: "z", want: []string{}},
		{name: "unknown session", sessionID: "s9", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := repo.GetMessagesBySessionID(ctx, tt.sessionID, tt.chatHistoryID)
			require.NoError(t, err)

			got := make([]string, 0, len(messages))
			for _, m := range messages {
				got = append(got, m.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStampClock(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStampClock(func() time.Time { return fixed })

	first := c.Next()
	second := c.Next()
	third := c.Next()

	assert.Equal(t, fixed, first)
	assert.Equal(t, fixed.Add(time.Microsecond), second)
	assert.Equal(t, fixed.Add(2*time.Microsecond), third)

	// 时钟回拨时仍然递增
	fixed = fixed.Add(-time.Second)
	assert.True(t, c.Next().After(third))
}
