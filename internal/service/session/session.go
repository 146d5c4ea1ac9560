// Package session 管理访客会话
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/model"
	"github.com/ashwinyue/next-chat/internal/repository"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// Store 会话存储
type Store struct {
	repo  repository.ChatRepository
	log   *zap.Logger
	newID func() string
}

// NewStore 创建会话存储
func NewStore(repo repository.ChatRepository, log *zap.Logger) *Store {
	return &Store{
		repo:  repo,
		log:   log.Named("session"),
		newID: func() string { return uuid.New().String() },
	}
}

// GetOrCreate 返回调用方的会话，不存在时创建
// presentedID 来自已校验的会话 Cookie，为空表示新访客
func (s *Store) GetOrCreate(ctx context.Context, presentedID string) (*model.ChatSession, error) {
	if presentedID != "" {
		sess, err := s.repo.GetSessionByID(ctx, presentedID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		if _, perr := uuid.Parse(presentedID); perr != nil {
			presentedID = ""
		}
	}

	id := presentedID
	if id == "" {
		id = s.newID()
	}

	sess := &model.ChatSession{SessionID: id}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 并发创建时以已落库的记录为准
	stored, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}

	s.log.Info("session created", zap.String("session_id", id))
	return stored, nil
}

// Get 获取会话
func (s *Store) Get(ctx context.Context, id string) (*model.ChatSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.repo.GetSessionByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}
