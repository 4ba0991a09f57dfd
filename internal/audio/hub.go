package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhouzirui/z-tutor/backend/internal/logger"
)

// Hub 把浏览器等外部客户端的音频设备按会话挂载，供语音会话取用。
//
// 输入源必须在采集开始前挂载；输出端可以随时挂载，未挂载期间的音频被丢弃。
type Hub struct {
	target Format

	mu      sync.RWMutex
	devices map[string]*attachment
	seq     uint64
}

type attachment struct {
	id     uint64
	source *BufferSource
	sink   Sink
}

// NewHub 创建 Hub，target 是会话需要的输入格式。
func NewHub(target Format) *Hub {
	return &Hub{target: target, devices: make(map[string]*attachment)}
}

// Attach 为会话挂载一个客户端。clientFormat 是客户端上行 PCM 的格式，
// sink 接收下行音频。返回的 BufferSource 用于写入上行数据，detach 解除挂载。
// 同一会话再次挂载会替换之前的客户端。
func (h *Hub) Attach(sessionID string, clientFormat Format, sink Sink) (*BufferSource, func(), error) {
	source, err := NewBufferSource(clientFormat, h.target)
	if err != nil {
		return nil, nil, fmt.Errorf("attach audio client: %w", err)
	}

	h.mu.Lock()
	h.seq++
	a := &attachment{id: h.seq, source: source, sink: sink}
	if old, ok := h.devices[sessionID]; ok {
		old.source.Close()
		logger.Info("[audio] replacing attached client", "sessionId", sessionID)
	}
	h.devices[sessionID] = a
	h.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			h.mu.Lock()
			if cur, ok := h.devices[sessionID]; ok && cur.id == a.id {
				delete(h.devices, sessionID)
			}
			h.mu.Unlock()
			source.Close()
		})
	}
	return source, detach, nil
}

// Attached 报告会话是否有客户端挂载。
func (h *Hub) Attached(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.devices[sessionID]
	return ok
}

func (h *Hub) current(sessionID string) *attachment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.devices[sessionID]
}

// OpenSource 实现 SourceProvider。没有客户端挂载时返回 ErrDeviceUnavailable。
func (h *Hub) OpenSource(_ context.Context, sessionID string, f Format) (Source, error) {
	if f.SampleRate != h.target.SampleRate {
		return nil, fmt.Errorf("%w: hub delivers %d Hz, requested %d Hz", ErrDeviceUnavailable, h.target.SampleRate, f.SampleRate)
	}
	a := h.current(sessionID)
	if a == nil {
		return nil, fmt.Errorf("%w: no audio client attached to session %s", ErrDeviceUnavailable, sessionID)
	}
	// 丢弃开始采集之前积压的数据
	_, _ = a.source.Drain()
	return &hubSource{hub: h, sessionID: sessionID, id: a.id}, nil
}

// OpenSink 实现 SinkProvider，返回按需转发到当前客户端的输出端。
func (h *Hub) OpenSink(_ context.Context, sessionID string, _ Format) (Sink, error) {
	return &hubSink{hub: h, sessionID: sessionID}, nil
}

// hubSource 只读取打开时挂载的那个客户端，客户端离开后返回空数据。
type hubSource struct {
	hub       *Hub
	sessionID string
	id        uint64
}

func (s *hubSource) Drain() ([]byte, error) {
	a := s.hub.current(s.sessionID)
	if a == nil || a.id != s.id {
		return nil, nil
	}
	return a.source.Drain()
}

func (s *hubSource) Close() error { return nil }

type hubSink struct {
	hub       *Hub
	sessionID string
}

func (s *hubSink) Play(pcm []byte) error {
	a := s.hub.current(s.sessionID)
	if a == nil || a.sink == nil {
		return nil
	}
	return a.sink.Play(pcm)
}

func (s *hubSink) Flush() {
	a := s.hub.current(s.sessionID)
	if a == nil {
		return
	}
	if f, ok := a.sink.(Flusher); ok {
		f.Flush()
	}
}

func (s *hubSink) Close() error { return nil }
