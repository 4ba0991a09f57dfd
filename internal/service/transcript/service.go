package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tutor/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("transcript not found")
)

// Service keeps conversation transcripts in memory. It listens to the voice
// dispatcher and records final student and tutor text.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]transcript.Session
	entries  map[string][]transcript.Entry
	// 每个会话中处于推测阶段的内容块，其文本不入库
	speculative map[string]map[string]struct{}
	lookup      MetadataLookup
	now         func() time.Time
}

// MetadataLookup 返回会话的教学上下文，用于会话开始时建立转写头。
type MetadataLookup func(sessionID string) (conversation.Metadata, bool)

// NewService bootstraps the in-memory transcript store.
func NewService() *Service {
	return &Service{
		sessions:    make(map[string]transcript.Session),
		entries:     make(map[string][]transcript.Entry),
		speculative: make(map[string]map[string]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetMetadataLookup installs the lookup used when a session starts streaming.
func (s *Service) SetMetadataLookup(lookup MetadataLookup) {
	s.mu.Lock()
	s.lookup = lookup
	s.mu.Unlock()
}

// Open registers a transcript for a conversation. Opening twice keeps the
// existing header.
func (s *Service) Open(_ context.Context, sessionID string, meta conversation.Metadata) (transcript.Session, error) {
	if sessionID == "" {
		return transcript.Session{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	session := transcript.Session{
		ID:        sessionID,
		Topic:     meta.Topic,
		Level:     meta.Level,
		StudentID: meta.StudentID,
		CreatedAt: s.now(),
	}
	s.sessions[sessionID] = session
	s.entries[sessionID] = make([]transcript.Entry, 0, 16)
	return session, nil
}

// Append adds an entry to the transcript, opening it on first use.
func (s *Service) Append(_ context.Context, entry transcript.Entry) (transcript.Entry, error) {
	if entry.SessionID == "" {
		return transcript.Entry{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[entry.SessionID]; !ok {
		s.sessions[entry.SessionID] = transcript.Session{ID: entry.SessionID, CreatedAt: s.now()}
	}
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], entry)
	return entry, nil
}

// GetSession retrieves a transcript header.
func (s *Service) GetSession(_ context.Context, sessionID string) (transcript.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return transcript.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Load returns stored entries for the session.
func (s *Service) Load(_ context.Context, sessionID string) ([]transcript.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.entries[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := make([]transcript.Entry, len(entries))
	copy(copied, entries)
	return copied, nil
}

// Recent returns at most limit latest entries, oldest first.
func (s *Service) Recent(sessionID string, limit int) []transcript.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[sessionID]
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	return append([]transcript.Entry(nil), entries[start:]...)
}

// OnEvent implements voice.Listener.
func (s *Service) OnEvent(ev voice.Event) {
	switch p := ev.Payload.(type) {
	case voice.ContentStarted:
		if p.Type == voice.ContentTypeText && p.GenerationStage() == voice.StageSpeculative {
			s.markSpeculative(ev.SessionID, p.ContentID, true)
		}
	case voice.ContentEnded:
		s.markSpeculative(ev.SessionID, p.ContentID, false)
	case voice.TextOutput:
		if p.Interrupted() || s.isSpeculative(ev.SessionID, p.ContentID) {
			return
		}
		role := transcript.RoleTutor
		if strings.EqualFold(p.Role, voice.RoleUser) {
			role = transcript.RoleStudent
		}
		s.record(ev, role, p.Content, transcript.SourceVoice)
	case voice.TextExchange:
		s.record(ev, transcript.RoleStudent, p.Prompt, transcript.SourceText)
		s.record(ev, transcript.RoleTutor, p.Reply, transcript.SourceText)
	case voice.StateChange:
		switch p.To {
		case conversation.StateStreaming:
			s.open(ev.SessionID)
		case conversation.StateClosed:
			s.finish(ev.SessionID, ev.At)
		}
	}
}

func (s *Service) open(sessionID string) {
	s.mu.RLock()
	lookup := s.lookup
	s.mu.RUnlock()

	var meta conversation.Metadata
	if lookup != nil {
		meta, _ = lookup(sessionID)
	}
	if _, err := s.Open(context.Background(), sessionID, meta); err != nil {
		logger.Warn("[transcript] open failed", "sessionId", sessionID, "error", err)
	}
}

func (s *Service) record(ev voice.Event, role transcript.Role, content string, source transcript.Source) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	entry := transcript.Entry{
		SessionID: ev.SessionID,
		Role:      role,
		Content:   content,
		Source:    source,
		CreatedAt: ev.At.UTC(),
	}
	if role == transcript.RoleStudent {
		entry.Emotion = string(emotion.Analyze(content).Emotion)
	}
	if _, err := s.Append(context.Background(), entry); err != nil {
		logger.Warn("[transcript] append failed", "sessionId", ev.SessionID, "error", err)
	}
}

func (s *Service) markSpeculative(sessionID, contentID string, speculative bool) {
	if contentID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.speculative[sessionID]
	if speculative {
		if ids == nil {
			ids = make(map[string]struct{})
			s.speculative[sessionID] = ids
		}
		ids[contentID] = struct{}{}
		return
	}
	delete(ids, contentID)
}

func (s *Service) isSpeculative(sessionID, contentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.speculative[sessionID][contentID]
	return ok
}

func (s *Service) finish(sessionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.speculative, sessionID)
	if session, ok := s.sessions[sessionID]; ok {
		session.EndedAt = at.UTC()
		s.sessions[sessionID] = session
	}
}
