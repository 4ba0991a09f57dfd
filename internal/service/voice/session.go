package voice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// Session 是一次双向语音会话。除 ID 等不可变字段外，其余状态只通过方法访问。
type Session struct {
	ID          string
	PromptName  string
	ContentName string
	Metadata    conversation.Metadata
	VoiceID     string
	CreatedAt   time.Time

	mu               sync.Mutex
	state            conversation.State
	audioContentName string
	turns            int
	conn             transport.Conn
	writer           transport.FrameWriter
	useDirectWrite   bool
	sink             audio.Sink
	capture          *captureHandle
	captureStarting  bool
	cancelIngest     context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	// sendMu 串行化写出与入队，保证 FIFO
	sendMu sync.Mutex
	queue  []OutboundEvent
}

func newSession(meta conversation.Metadata, voiceID string, now time.Time) *Session {
	return &Session{
		ID:               uuid.NewString(),
		PromptName:       uuid.NewString(),
		ContentName:      uuid.NewString(),
		Metadata:         meta,
		VoiceID:          voiceID,
		CreatedAt:        now,
		state:            conversation.StateInitializing,
		audioContentName: uuid.NewString(),
		done:             make(chan struct{}),
	}
}

// State 返回当前状态。
func (s *Session) State() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance 把状态向前推进，目标不晚于当前状态时返回 false。
func (s *Session) advance(to conversation.State) (conversation.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if to <= from {
		return from, false
	}
	s.state = to
	if to == conversation.StateClosed {
		close(s.done)
	}
	return from, true
}

// Done 在会话进入 Closed 后关闭。
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Queued 返回未能写出的事件副本，按入队顺序排列。
func (s *Session) Queued() []OutboundEvent {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return append([]OutboundEvent(nil), s.queue...)
}

func (s *Session) audioContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioContentName
}

func (s *Session) audioSink() audio.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Info 返回会话快照。
func (s *Session) Info() conversation.SessionInfo {
	s.sendMu.Lock()
	queued := len(s.queue)
	s.sendMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.Metadata
	meta.ContextFragments = append([]string(nil), s.Metadata.ContextFragments...)
	return conversation.SessionInfo{
		ID:               s.ID,
		State:            s.state,
		PromptName:       s.PromptName,
		ContentName:      s.ContentName,
		AudioContentName: s.audioContentName,
		UseDirectWrite:   s.useDirectWrite,
		QueueLength:      queued,
		Capturing:        s.capture != nil,
		Turns:            s.turns,
		VoiceID:          s.VoiceID,
		Metadata:         meta,
		CreatedAt:        s.CreatedAt,
	}
}
