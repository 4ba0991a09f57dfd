// Package voice 管理与语音推理端点之间的实时双向会话。
//
// 一次会话的生命周期：StartConversation 建立流并按固定顺序发送握手事件，
// 随后接收循环解码入站事件并分发、播放音频；StartAudioCapture/StopAudioCapture
// 界定一轮用户语音输入；EndConversation 发送结束事件并释放资源。
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// InstructionBuilder 根据教学上下文生成系统指令。
type InstructionBuilder interface {
	BuildInstruction(ctx context.Context, meta conversation.Metadata) (string, error)
}

// TextResponder 为文本消息生成非流式回复。
type TextResponder interface {
	Respond(ctx context.Context, sessionID string, meta conversation.Metadata, text string) (string, error)
}

// Deps 是 Manager 依赖的协作者。Registry 与 Dispatcher 为空时自动创建。
type Deps struct {
	Registry     *Registry
	Dispatcher   *Dispatcher
	Credentials  credentials.Provider
	Dialer       transport.Dialer
	Sources      audio.SourceProvider
	Sinks        audio.SinkProvider
	Instructions InstructionBuilder
	Responder    TextResponder
}

// Options 控制会话行为。
type Options struct {
	Endpoint       transport.Endpoint
	Inference      InferenceConfig
	DefaultVoice   string
	ChunkInterval  time.Duration
	WatchdogWindow time.Duration
	HandshakeDelay time.Duration
	// WriteTimeout 为单次写出设置超时，0 表示不限制
	WriteTimeout time.Duration
	InputFormat  audio.Format
	OutputFormat audio.Format
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{
		Inference:      InferenceConfig{MaxTokens: 1024, TopP: 0.9, Temperature: 0.7},
		DefaultVoice:   DefaultVoiceID,
		ChunkInterval:  100 * time.Millisecond,
		WatchdogWindow: 10 * time.Second,
		HandshakeDelay: 30 * time.Millisecond,
		InputFormat:    audio.Input16k,
		OutputFormat:   audio.Output24k,
	}
}

// Manager 是语音会话的对外入口。
type Manager struct {
	deps Deps
	opts Options

	// wg 跟踪接收循环
	wg sync.WaitGroup
}

// NewManager 创建 Manager，未设置的参数取默认值。
func NewManager(deps Deps, opts Options) *Manager {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = NewDispatcher()
	}

	def := DefaultOptions()
	if opts.Inference.MaxTokens <= 0 {
		opts.Inference.MaxTokens = def.Inference.MaxTokens
	}
	if opts.Inference.TopP <= 0 {
		opts.Inference.TopP = def.Inference.TopP
	}
	if opts.Inference.Temperature <= 0 {
		opts.Inference.Temperature = def.Inference.Temperature
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = def.DefaultVoice
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = def.ChunkInterval
	}
	if opts.HandshakeDelay < 0 {
		opts.HandshakeDelay = 0
	}
	if opts.InputFormat.SampleRate == 0 {
		opts.InputFormat = def.InputFormat
	}
	if opts.OutputFormat.SampleRate == 0 {
		opts.OutputFormat = def.OutputFormat
	}

	return &Manager{deps: deps, opts: opts}
}

// Registry 返回会话表。
func (m *Manager) Registry() *Registry {
	return m.deps.Registry
}

// Dispatcher 返回事件分发器。
func (m *Manager) Dispatcher() *Dispatcher {
	return m.deps.Dispatcher
}

// Subscribe 注册事件监听者。
func (m *Manager) Subscribe(l Listener) func() {
	return m.deps.Dispatcher.Subscribe(l)
}

// StartConversation 创建会话并完成握手，成功时会话处于 Streaming 状态。
// 任何一步失败都不会在会话表中留下记录。
func (m *Manager) StartConversation(ctx context.Context, cfg conversation.StartConfig) (string, error) {
	voiceID := NormalizeVoiceID(cfg.VoiceID, m.opts.DefaultVoice)
	s := m.deps.Registry.Create(cfg.Metadata(), voiceID)
	logger.Info("[voice] starting conversation",
		"sessionId", s.ID, "topic", cfg.Topic, "level", cfg.Level, "voice", voiceID)

	if err := m.initialize(ctx, s, cfg); err != nil {
		logger.Warn("[voice] conversation setup failed", "sessionId", s.ID, "error", err)
		m.abort(s)
		return "", err
	}

	logger.Info("[voice] conversation streaming", "sessionId", s.ID, "direct", s.Info().UseDirectWrite)
	return s.ID, nil
}

// EndConversation 结束会话。会话不存在或已结束时直接返回 nil。
func (m *Manager) EndConversation(_ context.Context, sessionID string) error {
	s, err := m.deps.Registry.Get(sessionID)
	if err != nil {
		return nil
	}
	m.closeSession(s, "caller requested end")
	return nil
}

// SendTextMessage 通过文本模型回复一条消息，不经过语音流。
func (m *Manager) SendTextMessage(ctx context.Context, sessionID, text string) (string, error) {
	s, err := m.deps.Registry.Get(sessionID)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if m.deps.Responder == nil {
		return "", ErrTextUnavailable
	}

	reply, err := m.deps.Responder.Respond(ctx, s.ID, s.Metadata, text)
	if err != nil {
		return "", fmt.Errorf("respond to text message: %w", err)
	}
	m.dispatch(s.ID, EventTextMessage, TextExchange{Prompt: text, Reply: reply})
	return reply, nil
}

// GetSessionInfo 返回会话快照。
func (m *Manager) GetSessionInfo(sessionID string) (conversation.SessionInfo, error) {
	s, err := m.deps.Registry.Get(sessionID)
	if err != nil {
		return conversation.SessionInfo{}, err
	}
	return s.Info(), nil
}

// GetActiveSessions 返回所有 Streaming 会话的快照。
func (m *Manager) GetActiveSessions() []conversation.SessionInfo {
	active := m.deps.Registry.ListActive()
	out := make([]conversation.SessionInfo, 0, len(active))
	for _, s := range active {
		out = append(out, s.Info())
	}
	return out
}

// Shutdown 并发结束所有会话并等待接收循环退出。
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.deps.Registry.All()
	if len(sessions) > 0 {
		logger.Info("[voice] shutting down", "sessions", len(sessions))
	}

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			m.closeSession(s, "shutdown")
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeSession 执行一次性的关闭流程：Closing → 停止采集 → promptEnd/sessionEnd →
// 释放资源 → 移出会话表 → Closed。
func (m *Manager) closeSession(s *Session, reason string) {
	s.closeOnce.Do(func() {
		if !m.transition(s, conversation.StateClosing) {
			return
		}
		logger.Info("[voice] closing conversation", "sessionId", s.ID, "reason", reason)

		m.haltCapture(s)
		m.send(s, PromptEnd{PromptName: s.PromptName})
		m.send(s, SessionEnd{})

		m.release(s)
		m.deps.Registry.Remove(s.ID)
		m.transition(s, conversation.StateClosed)
	})
}

// abort 清理未完成握手的会话。
func (m *Manager) abort(s *Session) {
	s.closeOnce.Do(func() {})
	m.haltCapture(s)
	m.release(s)
	m.deps.Registry.Remove(s.ID)
	m.transition(s, conversation.StateClosed)
}

func (m *Manager) release(s *Session) {
	s.mu.Lock()
	cancel := s.cancelIngest
	conn := s.conn
	sink := s.sink
	s.cancelIngest = nil
	s.conn = nil
	s.sink = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			logger.Warn("[voice] close transport failed", "sessionId", s.ID, "error", err)
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Warn("[voice] close audio output failed", "sessionId", s.ID, "error", err)
		}
	}
}

// transition 推进状态并分发 stateChanged。
func (m *Manager) transition(s *Session, to conversation.State) bool {
	from, ok := s.advance(to)
	if !ok {
		return false
	}
	logger.Debug("[voice] state changed", "sessionId", s.ID, "from", from.String(), "to", to.String())
	m.dispatch(s.ID, EventStateChanged, StateChange{From: from, To: to})
	return true
}

func (m *Manager) dispatch(sessionID string, typ EventType, payload any) {
	m.deps.Dispatcher.Dispatch(sessionID, typ, payload)
}
