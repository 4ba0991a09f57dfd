package voice

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-tutor/backend/internal/logger"
)

// Delivery 是一次发送的结果。
type Delivery int

const (
	Written Delivery = iota
	Queued
)

func (d Delivery) String() string {
	if d == Written {
		return "written"
	}
	return "queued"
}

var errNoWriter = errors.New("no transport writer")

// send 写出一个事件；没有写句柄、编码失败或写入失败时追加到队列，不向调用方报错。
// 队列不会被自动补发。
func (m *Manager) send(s *Session, ev OutboundEvent) Delivery {
	s.sendMu.Lock()
	err := m.writeLocked(s, ev)
	if err == nil {
		s.sendMu.Unlock()
		return Written
	}
	s.queue = append(s.queue, ev)
	depth := len(s.queue)
	s.sendMu.Unlock()

	logger.Warn("[voice] outbound event queued",
		"sessionId", s.ID, "event", ev.EventName(), "depth", depth, "error", err)
	m.dispatch(s.ID, EventOutboundQueued, QueuedEvent{Name: ev.EventName(), Reason: err.Error(), Depth: depth})
	return Queued
}

// writeStrict 写出一个事件，失败时返回错误而不入队，用于握手。
func (m *Manager) writeStrict(s *Session, ev OutboundEvent) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return m.writeLocked(s, ev)
}

// writeLocked 要求调用方持有 sendMu。
func (m *Manager) writeLocked(s *Session, ev OutboundEvent) error {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		return errNoWriter
	}

	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if m.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.WriteTimeout)
		defer cancel()
	}
	return w.WriteFrame(ctx, payload)
}
