package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		origins    []string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{name: "allow all", origin: "http://a.test", wantStatus: http.StatusTeapot, wantAllow: "*"},
		{name: "listed origin", origins: []string{"http://a.test"}, origin: "http://a.test", wantStatus: http.StatusTeapot, wantAllow: "http://a.test"},
		{name: "unlisted origin", origins: []string{"http://a.test"}, origin: "http://b.test", wantStatus: http.StatusTeapot},
		{name: "preflight", origin: "http://a.test", preflight: true, wantStatus: http.StatusNoContent, wantAllow: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/conversations", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			CORS(tt.origins)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("expected allow-origin %q, got %q", tt.wantAllow, got)
			}
		})
	}
}
