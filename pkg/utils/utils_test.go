package utils

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorCode(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorCode(rec, 409, "capture_active", "capture already running")

	assert.Equal(t, 409, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"capture already running","code":"capture_active"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Topic string `json:"topic"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"topic":"fractions"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "fractions", dst.Topic)

	req = httptest.NewRequest("POST", "/", strings.NewReader(""))
	assert.NoError(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"unknown":1}`))
	assert.Error(t, DecodeJSON(req, &dst))
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	require.NoError(t, SendSSEEvent(rec, rec, "textOutput", map[string]string{"content": "hi"}))
	require.NoError(t, SendSSEComment(rec, rec, "ping"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: textOutput\ndata: {\"content\":\"hi\"}\n\n: ping\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
