package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsOutbound     = 512
)

var errClientClosed = errors.New("websocket client closed")

// clientMessage 是浏览器发来的文本控制帧。二进制帧一律视为麦克风 PCM。
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type serverMessage struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId,omitempty"`
	Event     *voice.Event `json:"event,omitempty"`
	Data      any          `json:"data,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

type outbound struct {
	messageType int
	data        []byte
	audio       bool
	generation  uint64
}

// wsClient 是一个浏览器连接：既是会话的音频输出设备，也是事件监听者。
// 所有写操作都经过 out 通道，由 writeLoop 串行完成。
type wsClient struct {
	sessionID  string
	conn       *websocket.Conn
	out        chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	generation atomic.Uint64
}

func newWSClient(sessionID string, conn *websocket.Conn) *wsClient {
	return &wsClient{
		sessionID: sessionID,
		conn:      conn,
		out:       make(chan outbound, wsOutbound),
		done:      make(chan struct{}),
	}
}

// Play 把模型音频作为二进制帧下发。
func (c *wsClient) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	data := append([]byte(nil), pcm...)
	if !c.enqueue(outbound{messageType: websocket.BinaryMessage, data: data, audio: true, generation: c.generation.Load()}) {
		return errClientClosed
	}
	return nil
}

// Flush 丢弃尚未写出的音频帧。
func (c *wsClient) Flush() {
	c.generation.Add(1)
}

// Close 由连接生命周期负责，这里不做任何事。
func (c *wsClient) Close() error { return nil }

// OnEvent 转发本会话的事件。音频走二进制帧，不重复推送。
func (c *wsClient) OnEvent(ev voice.Event) {
	if ev.SessionID != c.sessionID || ev.Type == voice.EventAudioOutput {
		return
	}
	c.sendJSON(serverMessage{Type: "event", SessionID: c.sessionID, Event: &ev, Timestamp: ev.At.Unix()})

	if isClosed(ev) {
		c.enqueue(outbound{
			messageType: websocket.CloseMessage,
			data:        websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		})
	}
}

func (c *wsClient) sendJSON(msg serverMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("[websocket] marshal message failed", "sessionId", c.sessionID, "error", err)
		return
	}
	c.enqueue(outbound{messageType: websocket.TextMessage, data: data})
}

func (c *wsClient) sendError(message string) {
	c.sendJSON(serverMessage{Type: "error", SessionID: c.sessionID, Message: message})
}

func (c *wsClient) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	default:
		logger.Warn("[websocket] outbound buffer full, dropping frame", "sessionId", c.sessionID, "audio", msg.audio)
		return false
	}
}

func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop 串行写出消息并定期发送 ping。
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case msg := <-c.out:
			if msg.audio && msg.generation != c.generation.Load() {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				logger.Debug("[websocket] write failed", "sessionId", c.sessionID, "error", err)
				return
			}
			if msg.messageType == websocket.CloseMessage {
				return
			}
		}
	}
}

// handleWebSocket 处理浏览器音频连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	info, err := h.svc.GetSessionInfo(sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if h.hub == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "audio websocket unavailable")
		return
	}

	clientFormat := h.inputFormat
	if raw := r.URL.Query().Get("rate"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil || rate < 8000 || rate > 192000 {
			utils.RespondError(w, http.StatusBadRequest, "invalid rate")
			return
		}
		clientFormat.SampleRate = rate
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[websocket] upgrade failed", "sessionId", sessionID, "error", err)
		return
	}

	client := newWSClient(sessionID, conn)
	defer client.shutdown()

	source, detach, err := h.hub.Attach(sessionID, clientFormat, client)
	if err != nil {
		logger.Warn("[websocket] attach audio failed", "sessionId", sessionID, "error", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "audio unavailable"))
		return
	}
	defer detach()

	unsubscribe := h.svc.Subscribe(client)
	defer unsubscribe()

	go client.writeLoop()

	logger.Info("[websocket] new connection", "sessionId", sessionID, "sampleRate", clientFormat.SampleRate)
	client.sendJSON(serverMessage{Type: "connected", SessionID: sessionID, Data: map[string]any{
		"session":     info,
		"inputFormat": clientFormat,
		"outputRate":  audio.Output24k.SampleRate,
	}})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("[websocket] read error", "sessionId", sessionID, "error", err)
			}
			logger.Info("[websocket] connection closed", "sessionId", sessionID)
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			if _, err := source.Write(data); err != nil {
				logger.Debug("[websocket] drop audio chunk", "sessionId", sessionID, "error", err)
			}
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				client.sendError("invalid control message")
				continue
			}
			h.handleControl(ctx, client, msg)
		}
	}
}

func (h *Handler) handleControl(ctx context.Context, client *wsClient, msg clientMessage) {
	sessionID := client.sessionID
	switch msg.Type {
	case "startCapture":
		if err := h.svc.StartAudioCapture(ctx, sessionID); err != nil {
			client.sendError(err.Error())
			return
		}
		client.sendJSON(serverMessage{Type: "capture", SessionID: sessionID, Data: map[string]bool{"active": true}})
	case "stopCapture":
		if err := h.svc.StopAudioCapture(ctx, sessionID); err != nil {
			client.sendError(err.Error())
			return
		}
		client.sendJSON(serverMessage{Type: "capture", SessionID: sessionID, Data: map[string]bool{"active": false}})
	case "text":
		// 文本回复可能较慢，不阻塞读循环
		go func(text string) {
			reply, err := h.svc.SendTextMessage(ctx, sessionID, text)
			if err != nil {
				client.sendError(err.Error())
				return
			}
			client.sendJSON(serverMessage{Type: "reply", SessionID: sessionID, Data: map[string]string{"prompt": text, "reply": reply}})
		}(msg.Text)
	case "end":
		if err := h.svc.EndConversation(ctx, sessionID); err != nil {
			client.sendError(err.Error())
		}
	default:
		client.sendError("unsupported message type: " + msg.Type)
	}
}
