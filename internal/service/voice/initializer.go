package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

const fallbackInstruction = "You are a patient tutor having a spoken conversation with a student. " +
	"Keep each reply to two or three short sentences and end with a question that checks understanding."

// initialize 建立流并完成握手，成功后启动接收循环。
func (m *Manager) initialize(ctx context.Context, s *Session, cfg conversation.StartConfig) error {
	if m.deps.Credentials == nil {
		return fmt.Errorf("%w: no credential provider configured", credentials.ErrAuthRequired)
	}
	creds, err := m.deps.Credentials.Credentials(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrAuthRequired) {
			err = fmt.Errorf("%w: %w", credentials.ErrAuthRequired, err)
		}
		return err
	}

	instruction, err := m.instruction(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build system instruction: %w", err)
	}

	if m.deps.Dialer == nil {
		return fmt.Errorf("%w: no dialer configured", ErrTransportOpen)
	}
	conn, err := m.deps.Dialer.Open(ctx, m.opts.Endpoint, creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	writer, direct, err := transport.ResolveWriter(conn.Sink())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}
	s.mu.Lock()
	s.writer = writer
	s.useDirectWrite = direct
	s.mu.Unlock()

	m.openSink(ctx, s)

	if err := m.handshake(ctx, s, m.inference(cfg), instruction); err != nil {
		return err
	}

	ingestCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelIngest = cancel
	s.mu.Unlock()

	m.wg.Add(1)
	if !m.transition(s, conversation.StateStreaming) {
		m.wg.Done()
		cancel()
		return ErrSessionClosed
	}
	go m.ingest(ingestCtx, s, conn)
	return nil
}

func (m *Manager) instruction(ctx context.Context, cfg conversation.StartConfig) (string, error) {
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		return prompt, nil
	}
	if m.deps.Instructions == nil {
		return fallbackInstruction, nil
	}
	return m.deps.Instructions.BuildInstruction(ctx, cfg.Metadata())
}

func (m *Manager) inference(cfg conversation.StartConfig) InferenceConfig {
	inf := m.opts.Inference
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		inf.MaxTokens = *cfg.MaxTokens
	}
	if cfg.TopP != nil && *cfg.TopP > 0 && *cfg.TopP <= 1 {
		inf.TopP = *cfg.TopP
	}
	if cfg.Temperature != nil && *cfg.Temperature >= 0 {
		inf.Temperature = *cfg.Temperature
	}
	return inf
}

// handshake 依次写出五个握手事件，每个写完后才开始下一个。
func (m *Manager) handshake(ctx context.Context, s *Session, inf InferenceConfig, instruction string) error {
	out := m.opts.OutputFormat
	events := []OutboundEvent{
		SessionStart{InferenceConfiguration: inf},
		PromptStart{
			PromptName:              s.PromptName,
			TextOutputConfiguration: textPlain,
			AudioOutputConfiguration: AudioConfig{
				MediaType:       "audio/lpcm",
				SampleRateHertz: out.SampleRate,
				SampleSizeBits:  out.BitsPerSample,
				ChannelCount:    out.Channels,
				VoiceID:         s.VoiceID,
				Encoding:        "base64",
				AudioType:       "SPEECH",
			},
		},
		ContentStart{
			PromptName:             s.PromptName,
			ContentName:            s.ContentName,
			Type:                   ContentTypeText,
			Interactive:            true,
			Role:                   RoleSystem,
			TextInputConfiguration: &textPlain,
		},
		TextInput{PromptName: s.PromptName, ContentName: s.ContentName, Content: instruction},
		ContentEnd{PromptName: s.PromptName, ContentName: s.ContentName},
	}

	for i, ev := range events {
		if i > 0 && m.opts.HandshakeDelay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
			case <-time.After(m.opts.HandshakeDelay):
			}
		}
		if err := m.writeStrict(s, ev); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrHandshake, ev.EventName(), err)
		}
		logger.Debug("[voice] handshake event sent", "sessionId", s.ID, "event", ev.EventName())
	}
	return nil
}
