package conversation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Service 是处理器依赖的会话操作，由 voice.Manager 实现。
type Service interface {
	StartConversation(ctx context.Context, cfg conversation.StartConfig) (string, error)
	EndConversation(ctx context.Context, sessionID string) error
	StartAudioCapture(ctx context.Context, sessionID string) error
	StopAudioCapture(ctx context.Context, sessionID string) error
	SendTextMessage(ctx context.Context, sessionID, text string) (string, error)
	GetSessionInfo(sessionID string) (conversation.SessionInfo, error)
	GetActiveSessions() []conversation.SessionInfo
	Subscribe(l voice.Listener) func()
}

// AudioAttacher 为浏览器连接挂载音频设备，由 audio.Hub 实现。
type AudioAttacher interface {
	Attach(sessionID string, clientFormat audio.Format, sink audio.Sink) (*audio.BufferSource, func(), error)
}

// Handler 会话相关的HTTP处理器
type Handler struct {
	svc         Service
	hub         AudioAttacher
	inputFormat audio.Format
	upgrader    websocket.Upgrader
}

// New 创建会话处理器。hub 为空时不提供 websocket 音频通道。
func New(svc Service, hub AudioAttacher, inputFormat audio.Format) *Handler {
	if inputFormat.SampleRate == 0 {
		inputFormat = audio.Input16k
	}
	return &Handler{
		svc:         svc,
		hub:         hub,
		inputFormat: inputFormat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 8192,
		},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Get("/", h.handleListActive)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleEnd)
			r.Post("/capture/start", h.handleStartCapture)
			r.Post("/capture/stop", h.handleStopCapture)
			r.Post("/messages", h.handleSendText)
			r.Get("/events", h.handleEvents)
			r.Get("/ws", h.handleWebSocket)
		})
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var cfg conversation.StartConfig
	if err := utils.DecodeJSON(r, &cfg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(cfg.Topic) == "" && strings.TrimSpace(cfg.SystemPrompt) == "" {
		utils.RespondError(w, http.StatusBadRequest, "topic is required")
		return
	}

	sessionID, err := h.svc.StartConversation(r.Context(), cfg)
	if err != nil {
		logger.Warn("[conversation] start failed", "error", err)
		respondServiceError(w, err)
		return
	}

	info, err := h.svc.GetSessionInfo(sessionID)
	if err != nil {
		// 会话可能在返回前已被远端关闭
		utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]any{"sessionId": sessionID, "session": info})
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.GetActiveSessions())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetSessionInfo(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EndConversation(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svc.StartAudioCapture(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "capturing"})
}

func (h *Handler) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svc.StopAudioCapture(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "stopped"})
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.svc.SendTextMessage(r.Context(), chi.URLParam(r, "sessionID"), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// statusFor 把会话错误映射为 HTTP 状态码和错误代码。
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, voice.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, credentials.ErrAuthRequired):
		return http.StatusUnauthorized, "auth_required"
	case errors.Is(err, voice.ErrTransportOpen), errors.Is(err, voice.ErrHandshake):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, voice.ErrCaptureActive):
		return http.StatusConflict, "capture_active"
	case errors.Is(err, voice.ErrSessionNotStreaming), errors.Is(err, voice.ErrSessionClosed):
		return http.StatusConflict, "session_not_streaming"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "audio_unavailable"
	case errors.Is(err, voice.ErrTextUnavailable):
		return http.StatusServiceUnavailable, "text_unavailable"
	case errors.Is(err, voice.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	utils.RespondErrorCode(w, status, code, message)
}
