package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/handler/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/handler/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/handler/tutor"
	middlewarePkg "github.com/zhouzirui/z-tutor/backend/internal/middleware"
	tutorModel "github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Deps 是路由依赖的服务。Metrics 与 Hub 可以为空。
type Deps struct {
	Conversations conversation.Service
	Hub           conversation.AudioAttacher
	InputFormat   audio.Format
	Tutors        tutorModel.Store
	Transcripts   transcript.Store
	Metrics       http.Handler
	CORSOrigins   []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.CORSOrigins))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	started := time.Now()
	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			active := 0
			if deps.Conversations != nil {
				active = len(deps.Conversations.GetActiveSessions())
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":         "ok",
				"uptimeSeconds":  int(time.Since(started).Seconds()),
				"activeSessions": active,
			})
		})

		if deps.Tutors != nil {
			tutor.New(deps.Tutors).RegisterRoutes(api)
		}
		if deps.Transcripts != nil {
			transcript.New(deps.Transcripts).RegisterRoutes(api)
		}
		if deps.Conversations != nil {
			conversation.New(deps.Conversations, deps.Hub, deps.InputFormat).RegisterRoutes(api)
		}
	})

	return r
}
