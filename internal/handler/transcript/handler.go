package transcript

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/transcript"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Store 是转写记录的只读视图
type Store interface {
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	Load(ctx context.Context, sessionID string) ([]model.Entry, error)
}

// Handler 转写记录的HTTP处理器
type Handler struct {
	store Store
}

// New 创建转写处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册转写相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transcripts/{sessionID}", h.handleGet)
}

// handleGet 返回会话头和全部记录
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	entries, err := h.store.Load(r.Context(), sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"entries": entries,
	})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, transcript.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
}
