package voice

import (
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
)

// Registry 保存进程内所有会话，按 ID 索引。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry 创建空的会话表。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create 创建处于 Initializing 状态的会话并登记。
func (r *Registry) Create(meta conversation.Metadata, voiceID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSession(meta, voiceID, r.now())
	for {
		if _, exists := r.sessions[s.ID]; !exists {
			break
		}
		s = newSession(meta, voiceID, r.now())
	}
	r.sessions[s.ID] = s
	return s
}

// Get 按 ID 查找会话。
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove 删除会话，不存在时忽略。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// ListActive 返回处于 Streaming 状态的会话，按创建时间排序。
func (r *Registry) ListActive() []*Session {
	var out []*Session
	for _, s := range r.All() {
		if s.State() == conversation.StateStreaming {
			out = append(out, s)
		}
	}
	return out
}

// All 返回全部会话，按创建时间排序。
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len 返回会话数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
