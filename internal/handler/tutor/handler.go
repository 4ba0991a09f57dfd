package tutor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Handler 辅导风格与音色的HTTP处理器
type Handler struct {
	tutors tutor.Store
}

// New 创建tutor处理器
func New(tutors tutor.Store) *Handler {
	return &Handler{tutors: tutors}
}

// RegisterRoutes 注册tutor相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tutors", h.handleList)
	r.Get("/tutors/{id}", h.handleGet)
	r.Get("/voices", h.handleVoices)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.tutors.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.tutors.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "tutor not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"default": voice.DefaultVoiceID,
		"voices":  voice.KnownVoices(),
	})
}
