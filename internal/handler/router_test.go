package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-tutor/backend/internal/metrics"
	tutorModel "github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/internal/service/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

func newTestRouter() http.Handler {
	manager := voice.NewManager(voice.Deps{}, voice.DefaultOptions())
	return NewRouter(Deps{
		Conversations: manager,
		Tutors:        tutorModel.NewMemoryStore(tutorModel.Seed()),
		Transcripts:   transcript.NewService(),
		Metrics:       metrics.New("test").Handler(),
	})
}

func TestHealth(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["activeSessions"] != float64(0) {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRoutesMounted(t *testing.T) {
	r := newTestRouter()
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/tutors", http.StatusOK},
		{http.MethodGet, "/api/voices", http.StatusOK},
		{http.MethodGet, "/api/conversations", http.StatusOK},
		{http.MethodGet, "/api/conversations/missing", http.StatusNotFound},
		{http.MethodDelete, "/api/conversations/missing", http.StatusNoContent},
		{http.MethodGet, "/api/transcripts/missing", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(tt.method, tt.path, nil))
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
		})
	}
}
