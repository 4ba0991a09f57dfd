package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

var testCreds = credentials.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret", SessionToken: "token"}

// newEchoRelay 回显每个 chunk，并在回显后追加一条异常帧。
func newEchoRelay(t *testing.T, seen chan<- *http.Request) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r.Clone(context.Background())
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		enc := eventstream.NewEncoder()
		dec := eventstream.NewDecoder()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frame, _, err := decodeFrame(dec, data)
			if err != nil {
				return
			}
			reply, _ := encodeChunk(enc, frame.Payload, Gzip)
			_ = ws.WriteMessage(websocket.BinaryMessage, reply)
			exc, _ := encodeException(enc, transport.ModelStreamError, "audio too long")
			_ = ws.WriteMessage(websocket.BinaryMessage, exc)
		}
	}))
}

// encodeException 生成一条异常帧，模拟中继转发的远端异常。
func encodeException(enc *eventstream.Encoder, kind transport.RemoteErrorKind, message string) ([]byte, error) {
	headers := eventstream.Headers{
		{Name: headerMessageType, Value: eventstream.StringValue(messageTypeException)},
		{Name: headerExceptionType, Value: eventstream.StringValue(string(kind))},
		{Name: headerContentType, Value: eventstream.StringValue("application/json")},
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, eventstream.Message{Headers: headers, Payload: []byte(message)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRelayRoundTrip(t *testing.T) {
	seen := make(chan *http.Request, 1)
	srv := newEchoRelay(t, seen)
	defer srv.Close()

	dialer := NewDialer(Options{Encoding: Gzip})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Open(ctx, transport.Endpoint{URL: wsURL(srv), Region: "us-east-1", ModelID: "amazon.nova-sonic-v1:0"}, testCreds)
	require.NoError(t, err)
	defer conn.Close()

	req := <-seen
	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "AWS4-HMAC-SHA256"))
	assert.Equal(t, "token", req.Header.Get("X-Amz-Security-Token"))
	assert.Equal(t, "amazon.nova-sonic-v1:0", req.URL.Query().Get("model-id"))

	writer, direct, err := transport.ResolveWriter(conn.Sink())
	require.NoError(t, err)
	assert.False(t, direct)
	require.NoError(t, writer.WriteFrame(ctx, []byte(`{"event":{"sessionEnd":{}}}`)))

	first := <-conn.Frames()
	assert.Nil(t, first.Err)
	assert.JSONEq(t, `{"event":{"sessionEnd":{}}}`, string(first.Payload))

	second := <-conn.Frames()
	require.NotNil(t, second.Err)
	assert.Equal(t, transport.ModelStreamError, second.Err.Kind)
	assert.Equal(t, "audio too long", second.Err.Message)
}

func TestRelayCloseEndsFrames(t *testing.T) {
	srv := newEchoRelay(t, nil)
	defer srv.Close()

	conn, err := NewDialer(Options{}).Open(context.Background(), transport.Endpoint{URL: wsURL(srv), Region: "us-east-1"}, testCreds)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case _, ok := <-conn.Frames():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
	assert.NoError(t, conn.Err())

	_, _, err = transport.ResolveWriter(conn.Sink())
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestRelayRejectsBadScheme(t *testing.T) {
	_, err := NewDialer(Options{MaxRetries: 1}).Open(context.Background(), transport.Endpoint{URL: "http://example.com"}, testCreds)
	assert.ErrorContains(t, err, "scheme must be ws or wss")
}

func TestRelayAuthFailureNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewDialer(Options{MaxRetries: 3, RetryDelay: time.Millisecond}).Open(context.Background(), transport.Endpoint{URL: wsURL(srv)}, testCreds)
	assert.ErrorIs(t, err, credentials.ErrAuthRequired)
	assert.Equal(t, 1, attempts)
}

func TestCompressionRoundTrip(t *testing.T) {
	packed, err := compressPayload([]byte("hello hello hello"), Gzip)
	require.NoError(t, err)
	unpacked, err := decompressPayload(packed, Gzip)
	require.NoError(t, err)
	assert.Equal(t, "hello hello hello", string(unpacked))

	_, err = compressPayload([]byte("x"), ContentEncoding("br"))
	assert.Error(t, err)
}

func TestRelayDropsMalformedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		enc := eventstream.NewEncoder()
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("garbage, not an event-stream frame"))

		// gzip 头但内容不是 gzip
		var corrupt bytes.Buffer
		_ = enc.Encode(&corrupt, eventstream.Message{
			Headers: eventstream.Headers{
				{Name: headerMessageType, Value: eventstream.StringValue(messageTypeEvent)},
				{Name: headerEventType, Value: eventstream.StringValue(eventTypeChunk)},
				{Name: headerContentEncoding, Value: eventstream.StringValue(string(Gzip))},
			},
			Payload: []byte("not gzip"),
		})
		_ = ws.WriteMessage(websocket.BinaryMessage, corrupt.Bytes())

		valid, _ := encodeChunk(enc, []byte(`{"event":{"textOutput":{"contentId":"c1","role":"ASSISTANT","content":"still here"}}}`), Identity)
		_ = ws.WriteMessage(websocket.BinaryMessage, valid)

		// 保持连接直到客户端关闭
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := NewDialer(Options{}).Open(context.Background(), transport.Endpoint{URL: wsURL(srv), Region: "us-east-1"}, testCreds)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case frame, ok := <-conn.Frames():
		require.True(t, ok, "frames closed after malformed message: %v", conn.Err())
		assert.Nil(t, frame.Err)
		assert.Contains(t, string(frame.Payload), "still here")
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame not delivered after malformed messages")
	}
	assert.NoError(t, conn.Err())
}
