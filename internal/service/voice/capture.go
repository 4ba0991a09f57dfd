package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
)

type captureHandle struct {
	source      audio.Source
	contentName string
	cancel      context.CancelFunc
	done        chan struct{}
}

// StartAudioCapture 打开输入源并开始按固定节奏发送 audioInput。
func (m *Manager) StartAudioCapture(ctx context.Context, sessionID string) error {
	s, err := m.deps.Registry.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case s.state != conversation.StateStreaming:
		s.mu.Unlock()
		return ErrSessionNotStreaming
	case s.capture != nil || s.captureStarting:
		s.mu.Unlock()
		return ErrCaptureActive
	}
	s.captureStarting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.captureStarting = false
		s.mu.Unlock()
	}()

	if m.deps.Sources == nil {
		return fmt.Errorf("%w: no audio input configured", audio.ErrDeviceUnavailable)
	}
	source, err := m.deps.Sources.OpenSource(ctx, s.ID, m.opts.InputFormat)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return err
	}

	s.mu.Lock()
	if s.turns > 0 {
		s.audioContentName = uuid.NewString()
	}
	contentName := s.audioContentName
	s.mu.Unlock()

	in := m.opts.InputFormat
	m.send(s, ContentStart{
		PromptName:  s.PromptName,
		ContentName: contentName,
		Type:        ContentTypeAudio,
		Interactive: true,
		Role:        RoleUser,
		AudioInputConfiguration: &AudioConfig{
			MediaType:       "audio/lpcm",
			SampleRateHertz: in.SampleRate,
			SampleSizeBits:  in.BitsPerSample,
			ChannelCount:    in.Channels,
			Encoding:        "base64",
			AudioType:       "SPEECH",
		},
	})

	captureCtx, cancel := context.WithCancel(context.Background())
	h := &captureHandle{source: source, contentName: contentName, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.state != conversation.StateStreaming {
		s.mu.Unlock()
		cancel()
		closeSource(s.ID, source)
		return ErrSessionNotStreaming
	}
	s.capture = h
	s.mu.Unlock()

	go m.captureLoop(captureCtx, s, h)
	logger.Info("[voice] audio capture started", "sessionId", s.ID, "contentName", contentName)
	return nil
}

// StopAudioCapture 停止采集并发送 audioInputEnd 与 contentEnd。
// 会话不存在或未在采集时为空操作。返回后不会再有 audioInput 发出。
func (m *Manager) StopAudioCapture(_ context.Context, sessionID string) error {
	s, err := m.deps.Registry.Get(sessionID)
	if err != nil {
		return nil
	}
	h := m.detachCapture(s)
	if h == nil {
		return nil
	}

	m.send(s, AudioInputEnd{PromptName: s.PromptName, ContentName: h.contentName})
	m.send(s, ContentEnd{PromptName: s.PromptName, ContentName: h.contentName})
	logger.Info("[voice] audio capture stopped", "sessionId", s.ID, "contentName", h.contentName)
	return nil
}

// haltCapture 在关闭会话时停止采集，不发送 audioInputEnd。
func (m *Manager) haltCapture(s *Session) {
	if h := m.detachCapture(s); h != nil {
		logger.Debug("[voice] audio capture halted", "sessionId", s.ID)
	}
}

// detachCapture 取下采集句柄，等待采集协程退出并关闭输入源。
func (m *Manager) detachCapture(s *Session) *captureHandle {
	s.mu.Lock()
	h := s.capture
	if h != nil {
		s.capture = nil
		s.turns++
	}
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	h.cancel()
	<-h.done
	closeSource(s.ID, h.source)
	return h
}

func (m *Manager) captureLoop(ctx context.Context, s *Session, h *captureHandle) {
	defer close(h.done)

	ticker := time.NewTicker(m.opts.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 停止前把最后一段数据发出
			m.deliverChunk(s, h)
			return
		case <-ticker.C:
			m.deliverChunk(s, h)
		}
	}
}

func (m *Manager) deliverChunk(s *Session, h *captureHandle) {
	pcm, err := h.source.Drain()
	if err != nil {
		logger.Warn("[voice] audio capture read failed", "sessionId", s.ID, "error", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	m.send(s, AudioInput{
		PromptName:  s.PromptName,
		ContentName: h.contentName,
		Content:     base64.StdEncoding.EncodeToString(pcm),
	})
}

func closeSource(sessionID string, source audio.Source) {
	if err := source.Close(); err != nil {
		logger.Warn("[voice] close audio input failed", "sessionId", sessionID, "error", err)
	}
}
