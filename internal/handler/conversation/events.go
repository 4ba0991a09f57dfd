package conversation

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

const (
	sseBuffer    = 256
	sseHeartbeat = 15 * time.Second
)

// sessionFeed 把某个会话的事件转入缓冲通道。监听回调不能阻塞，缓冲满时丢弃。
type sessionFeed struct {
	sessionID    string
	includeAudio bool
	events       chan voice.Event
	closed       chan struct{}
	closeOnce    sync.Once
}

func newSessionFeed(sessionID string, includeAudio bool) *sessionFeed {
	return &sessionFeed{
		sessionID:    sessionID,
		includeAudio: includeAudio,
		events:       make(chan voice.Event, sseBuffer),
		closed:       make(chan struct{}),
	}
}

func (f *sessionFeed) OnEvent(ev voice.Event) {
	if ev.SessionID != f.sessionID {
		return
	}
	if ev.Type == voice.EventAudioOutput && !f.includeAudio {
		return
	}
	select {
	case f.events <- ev:
	default:
		logger.Warn("[sse] subscriber too slow, dropping event", "sessionId", f.sessionID, "type", ev.Type)
	}
	if isClosed(ev) {
		f.closeOnce.Do(func() { close(f.closed) })
	}
}

// drain 发送缓冲中剩余的事件，send 返回 false 时停止。
func (f *sessionFeed) drain(send func(voice.Event) bool) {
	for {
		select {
		case ev := <-f.events:
			if !send(ev) {
				return
			}
		default:
			return
		}
	}
}

func isClosed(ev voice.Event) bool {
	if ev.Type != voice.EventStateChanged {
		return false
	}
	change, ok := ev.Payload.(voice.StateChange)
	return ok && change.To == conversation.StateClosed
}

// handleEvents 以 SSE 推送会话事件，会话关闭后结束。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.svc.GetSessionInfo(sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	feed := newSessionFeed(sessionID, r.URL.Query().Get("audio") == "1")
	unsubscribe := h.svc.Subscribe(feed)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}
	logger.Info("[sse] opening event stream", "sessionId", sessionID)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("[sse] client went away", "sessionId", sessionID)
			return
		case ev := <-feed.events:
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
			if isClosed(ev) {
				logger.Info("[sse] session closed, ending stream", "sessionId", sessionID)
				return
			}
		case <-feed.closed:
			feed.drain(func(ev voice.Event) bool {
				return utils.SendSSEEvent(w, flusher, string(ev.Type), ev) == nil
			})
			logger.Info("[sse] session closed, ending stream", "sessionId", sessionID)
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
