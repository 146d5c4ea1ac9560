package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StreamRegistry 活跃流登记，每个会话同一时刻只保留一个流
type StreamRegistry struct {
	mu      sync.Mutex
	streams map[string]*ActiveStream
}

// ActiveStream 活跃流
type ActiveStream struct {
	ID         string
	SessionID  string
	CancelFunc context.CancelFunc
}

// NewStreamRegistry 创建活跃流登记
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*ActiveStream)}
}

// Register 登记会话的新流，并取消该会话之前的流
func (r *StreamRegistry) Register(sessionID string, cancel context.CancelFunc) *ActiveStream {
	stream := &ActiveStream{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		CancelFunc: cancel,
	}

	r.mu.Lock()
	prev := r.streams[sessionID]
	r.streams[sessionID] = stream
	r.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return stream
}

// Unregister 注销流；会话已被更新的流替换时不做处理
func (r *StreamRegistry) Unregister(stream *ActiveStream) {
	r.mu.Lock()
	if cur, ok := r.streams[stream.SessionID]; ok && cur == stream {
		delete(r.streams, stream.SessionID)
	}
	r.mu.Unlock()
}

// StopAll 停止全部流，服务关闭时调用
func (r *StreamRegistry) StopAll() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*ActiveStream)
	r.mu.Unlock()

	for _, stream := range streams {
		stream.stop()
	}
}

// Len 活跃流数量
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (s *ActiveStream) stop() {
	if s.CancelFunc != nil {
		s.CancelFunc()
	}
}
