package voice

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
)

// EventType 是分发给监听者的事件分类。
type EventType string

const (
	EventContentStart    EventType = "contentStart"
	EventContentEnd      EventType = "contentEnd"
	EventTextOutput      EventType = "textOutput"
	EventAudioOutput     EventType = "audioOutput"
	EventInferenceOutput EventType = "inferenceOutput"
	EventContentResponse EventType = "contentResponse"
	EventToolUse         EventType = "toolUse"
	EventSessionEnd      EventType = "sessionEnd"
	EventError           EventType = "error"
	EventUnknown         EventType = "unknown"

	// 诊断事件
	EventInterrupted    EventType = "interrupted"
	EventDecodeError    EventType = "decodeError"
	EventWatchdog       EventType = "watchdog"
	EventOutboundQueued EventType = "outboundQueued"
	EventStateChanged   EventType = "stateChanged"
	EventTextMessage    EventType = "textMessage"
)

// Event 是一条分发记录。
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// StateChange 是 stateChanged 事件的负载。
type StateChange struct {
	From conversation.State `json:"from"`
	To   conversation.State `json:"to"`
}

// QueuedEvent 是 outboundQueued 事件的负载。
type QueuedEvent struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Depth  int    `json:"depth"`
}

// ErrorKindTransport 标记传输层致命错误，其余 Kind 取远端异常类别。
const ErrorKindTransport = "transport"

// ErrorPayload 是 error 事件的负载。Fatal 为 true 表示入站流已结束。
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// DecodeFailure 是 decodeError 事件的负载。
type DecodeFailure struct {
	Error string `json:"error"`
	Size  int    `json:"size"`
}

// TextExchange 是 textMessage 事件的负载。
type TextExchange struct {
	Prompt string `json:"prompt"`
	Reply  string `json:"reply"`
}

// Listener 接收分发的事件。实现应当快速返回，不能阻塞接收循环。
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc 把函数适配为 Listener。
type ListenerFunc func(Event)

// OnEvent 实现 Listener。
func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Dispatcher 同步地把事件按注册顺序分发给所有监听者。
// 单个监听者 panic 会被恢复并记录，其余监听者照常执行。
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []listenerEntry
	seq       uint64
	now       func() time.Time
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// NewDispatcher 创建分发器。
func NewDispatcher() *Dispatcher {
	return &Dispatcher{now: time.Now}
}

// Subscribe 注册监听者，返回取消函数。
func (d *Dispatcher) Subscribe(l Listener) func() {
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.listeners = append(d.listeners, listenerEntry{id: id, l: l})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, e := range d.listeners {
				if e.id == id {
					d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispatch 分发一条事件。
func (d *Dispatcher) Dispatch(sessionID string, typ EventType, payload any) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	for i, e := range d.listeners {
		listeners[i] = e.l
	}
	d.mu.RUnlock()

	ev := Event{SessionID: sessionID, Type: typ, Payload: payload, At: d.now()}
	for _, l := range listeners {
		d.deliver(l, ev)
	}
}

func (d *Dispatcher) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[voice] listener panic",
				"sessionId", ev.SessionID,
				"type", string(ev.Type),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	l.OnEvent(ev)
}

// Recorder 把事件记录在内存中，供测试与调试接口查询。
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder 创建记录器，limit<=0 表示不限制条数。
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// OnEvent 实现 Listener。
func (r *Recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events 返回全部记录的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByType 返回指定类型的记录。
func (r *Recorder) ByType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// ForSession 返回指定会话的记录。
func (r *Recorder) ForSession(sessionID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset 清空记录。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogListener 把事件写入日志，音频负载只记录长度。
func LogListener() Listener {
	return ListenerFunc(func(ev Event) {
		switch p := ev.Payload.(type) {
		case AudioOutput:
			logger.Debug("[voice] event", "sessionId", ev.SessionID, "type", string(ev.Type), "bytes", len(p.Content))
		case ErrorPayload:
			logger.Warn("[voice] stream error", "sessionId", ev.SessionID, "kind", p.Kind, "message", p.Message, "fatal", p.Fatal)
		default:
			logger.Debug("[voice] event", "sessionId", ev.SessionID, "type", string(ev.Type))
		}
	})
}
