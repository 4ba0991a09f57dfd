package voice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// stopReasonInterrupted 是用户插话时助手内容的结束原因。
const stopReasonInterrupted = "INTERRUPTED"

// WatchdogNotice 是 watchdog 事件的负载。
type WatchdogNotice struct {
	Window time.Duration `json:"window"`
}

// Interruption 是 interrupted 事件的负载。
type Interruption struct {
	ContentID string `json:"contentId,omitempty"`
}

// ingest 按到达顺序处理入站帧，直到序列结束、ctx 取消或会话离开 Streaming。
func (m *Manager) ingest(ctx context.Context, s *Session, conn transport.Conn) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[voice] ingest loop panic", "sessionId", s.ID, "panic", fmt.Sprint(r))
			m.closeSession(s, "ingest panic")
		}
	}()

	var received atomic.Int64
	if m.opts.WatchdogWindow > 0 {
		watchdog := time.AfterFunc(m.opts.WatchdogWindow, func() {
			if received.Load() > 0 || s.State() != conversation.StateStreaming {
				return
			}
			logger.Warn("[voice] no inbound frames yet", "sessionId", s.ID, "window", m.opts.WatchdogWindow)
			m.dispatch(s.ID, EventWatchdog, WatchdogNotice{Window: m.opts.WatchdogWindow})
		})
		defer watchdog.Stop()
	}

	frames := conn.Frames()
	for {
		if s.State() != conversation.StateStreaming {
			return
		}
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				m.endOfStream(s, conn)
				return
			}
			received.Add(1)
			m.handleFrame(s, frame)
		}
	}
}

func (m *Manager) endOfStream(s *Session, conn transport.Conn) {
	if s.State() != conversation.StateStreaming {
		return
	}
	if err := conn.Err(); err != nil {
		logger.Warn("[voice] inbound stream failed", "sessionId", s.ID, "error", err)
		m.dispatch(s.ID, EventError, ErrorPayload{Kind: ErrorKindTransport, Message: err.Error(), Fatal: true})
	} else {
		logger.Info("[voice] inbound stream ended", "sessionId", s.ID)
	}
	m.closeSession(s, "inbound stream ended")
}

func (m *Manager) handleFrame(s *Session, frame transport.Frame) {
	if frame.Err != nil {
		m.dispatch(s.ID, EventError, ErrorPayload{Kind: string(frame.Err.Kind), Message: frame.Err.Message})
		return
	}

	ev, err := DecodeEvent(frame.Payload)
	if err != nil {
		logger.Warn("[voice] dropping inbound frame", "sessionId", s.ID, "bytes", len(frame.Payload), "error", err)
		m.dispatch(s.ID, EventDecodeError, DecodeFailure{Error: err.Error(), Size: len(frame.Payload)})
		return
	}

	switch e := ev.(type) {
	case ContentStarted:
		m.dispatch(s.ID, EventContentStart, e)
	case ContentEnded:
		if e.StopReason == stopReasonInterrupted {
			m.interrupt(s, e.ContentID)
		}
		m.dispatch(s.ID, EventContentEnd, e)
	case TextOutput:
		m.dispatch(s.ID, EventTextOutput, e)
		if e.Interrupted() {
			m.interrupt(s, e.ContentID)
		}
	case AudioOutput:
		m.dispatch(s.ID, EventAudioOutput, e)
		m.play(s, e.Content)
	case InferenceOutput:
		m.dispatch(s.ID, EventInferenceOutput, e)
	case ContentResponse:
		m.dispatch(s.ID, EventContentResponse, e)
	case ToolUse:
		m.dispatch(s.ID, EventToolUse, e)
	case SessionEnded:
		m.dispatch(s.ID, EventSessionEnd, e)
		m.closeSession(s, "remote ended session")
	case UnknownEvent:
		logger.Debug("[voice] unknown inbound event", "sessionId", s.ID, "name", e.Name)
		m.dispatch(s.ID, EventUnknown, e)
	default:
		panic(fmt.Sprintf("unhandled inbound event %T", ev))
	}
}
