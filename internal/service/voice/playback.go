package voice

import (
	"context"
	"encoding/base64"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
)

// openSink 为会话获取输出端，失败时只记录日志，之后的播放成为空操作。
func (m *Manager) openSink(ctx context.Context, s *Session) {
	if m.deps.Sinks == nil {
		logger.Debug("[voice] no audio output configured", "sessionId", s.ID)
		return
	}
	sink, err := m.deps.Sinks.OpenSink(ctx, s.ID, m.opts.OutputFormat)
	if err != nil {
		logger.Warn("[voice] audio output unavailable", "sessionId", s.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// play 解码并播放，错误只记录日志，不影响会话状态。
func (m *Manager) play(s *Session, b64 string) {
	sink := s.audioSink()
	if sink == nil {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		logger.Warn("[voice] invalid audio payload", "sessionId", s.ID, "error", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	if err := sink.Play(pcm); err != nil {
		logger.Warn("[voice] audio playback failed", "sessionId", s.ID, "bytes", len(pcm), "error", err)
	}
}

// interrupt 处理用户插话：丢弃未播放的音频并分发 interrupted。
func (m *Manager) interrupt(s *Session, contentID string) {
	if f, ok := s.audioSink().(audio.Flusher); ok {
		f.Flush()
	}
	logger.Debug("[voice] assistant interrupted", "sessionId", s.ID, "contentId", contentID)
	m.dispatch(s.ID, EventInterrupted, Interruption{ContentID: contentID})
}
