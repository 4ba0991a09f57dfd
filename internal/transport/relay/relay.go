// Package relay 通过 WebSocket 中继网关连接实时语音端点。
//
// 每条 WebSocket 二进制消息承载一条 AWS 事件流帧，握手请求使用 SigV4 签名。
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// sha256("")，握手请求没有 body
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Options 中继连接配置
type Options struct {
	HandshakeTimeout time.Duration // 握手超时
	ReadTimeout      time.Duration // 读超时，收到 pong 时刷新
	WriteTimeout     time.Duration // 单帧写超时
	PingInterval     time.Duration // ping 间隔
	MaxRetries       int           // 最大连接尝试次数
	RetryDelay       time.Duration // 第 i 次重试前等待 (i+1)*RetryDelay
	Encoding         ContentEncoding
	SigningService   string
}

// DefaultOptions 默认中继选项
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		Encoding:         Identity,
		SigningService:   "bedrock",
	}
}

// Dialer 建立到中继网关的连接
type Dialer struct {
	opts   Options
	signer *v4.Signer
	now    func() time.Time
}

// NewDialer 创建中继拨号器，零值字段使用默认值。
func NewDialer(opts Options) *Dialer {
	def := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.SigningService == "" {
		opts.SigningService = def.SigningService
	}
	return &Dialer{opts: opts, signer: v4.NewSigner(), now: time.Now}
}

// Open 实现 transport.Dialer。
func (d *Dialer) Open(ctx context.Context, ep transport.Endpoint, creds credentials.Credentials) (transport.Conn, error) {
	ws, err := d.connectWithRetry(ctx, ep, creds)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		opts:     d.opts,
		frames:   make(chan transport.Frame, 64),
		ctx:      connCtx,
		cancel:   cancel,
		encoder:  eventstream.NewEncoder(),
		endpoint: ep.URL,
	}

	ws.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	logger.Info("[relay] connected", "endpoint", ep.URL, "model", ep.ModelID)
	return c, nil
}

// connectWithRetry 带重试的连接建立，鉴权失败不重试
func (d *Dialer) connectWithRetry(ctx context.Context, ep transport.Endpoint, creds credentials.Credentials) (*websocket.Conn, error) {
	var lastErr error

	for i := 0; i < d.opts.MaxRetries; i++ {
		ws, err := d.connect(ctx, ep, creds)
		if err == nil {
			return ws, nil
		}
		lastErr = err

		if errors.Is(err, credentials.ErrAuthRequired) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i == d.opts.MaxRetries-1 {
			break
		}

		retryDelay := time.Duration(i+1) * d.opts.RetryDelay
		logger.Warn("[relay] connect failed, retrying", "attempt", i+1, "delay", retryDelay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts, last error: %w", d.opts.MaxRetries, lastErr)
}

// connect 建立单次连接
func (d *Dialer) connect(ctx context.Context, ep transport.Endpoint, creds credentials.Credentials) (*websocket.Conn, error) {
	wsURL, header, err := d.signedHandshake(ctx, ep, creds)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: relay rejected handshake with status %d", credentials.ErrAuthRequired, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return ws, nil
}

// signedHandshake 生成带模型参数的 URL 与 SigV4 签名头。
func (d *Dialer) signedHandshake(ctx context.Context, ep transport.Endpoint, creds credentials.Credentials) (string, http.Header, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid relay url %q: %w", ep.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", nil, fmt.Errorf("invalid relay url %q: scheme must be ws or wss", ep.URL)
	}
	if ep.ModelID != "" {
		q := u.Query()
		q.Set("model-id", ep.ModelID)
		u.RawQuery = q.Encode()
	}

	signURL := *u
	signURL.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signURL.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("build handshake request: %w", err)
	}
	if err := d.signer.SignHTTP(ctx, creds.AWS(), req, emptyPayloadHash, d.opts.SigningService, ep.Region, d.now()); err != nil {
		return "", nil, fmt.Errorf("sign handshake: %w", err)
	}

	return u.String(), req.Header.Clone(), nil
}

// Conn 是一条中继连接。写入需要先获取专用写句柄，因此暴露 BufferedSink。
type Conn struct {
	ws       *websocket.Conn
	opts     Options
	frames   chan transport.Frame
	ctx      context.Context
	cancel   context.CancelFunc
	encoder  *eventstream.Encoder
	endpoint string

	writeMu   sync.Mutex
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Sink 实现 transport.Conn。
func (c *Conn) Sink() transport.Sink {
	return transport.BufferedSink{Open: c.openWriter}
}

// Frames 实现 transport.Conn。
func (c *Conn) Frames() <-chan transport.Frame {
	return c.frames
}

// Err 实现 transport.Conn。
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close 发送关闭帧并释放连接。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) openWriter() (transport.FrameWriter, error) {
	if c.ctx.Err() != nil {
		return nil, transport.ErrClosed
	}
	return &frameWriter{conn: c}, nil
}

// frameWriter 串行化所有出站帧
type frameWriter struct {
	conn *Conn
}

func (w *frameWriter) WriteFrame(ctx context.Context, payload []byte) error {
	c := w.conn
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := encodeChunk(c.encoder, payload, c.opts.Encoding)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)

	nw, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return fmt.Errorf("relay writer: %w", err)
	}
	if _, err := nw.Write(data); err != nil {
		nw.Close()
		return fmt.Errorf("relay write: %w", err)
	}
	return nw.Close()
}

func (c *Conn) readLoop() {
	defer close(c.frames)

	decoder := eventstream.NewDecoder()
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(fmt.Errorf("relay read: %w", err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		// 每条 websocket 消息是一帧完整的事件流消息，解析失败只丢弃这一条
		frame, skip, err := decodeFrame(decoder, data)
		if err != nil {
			logger.Warn("[relay] dropping malformed frame", "endpoint", c.endpoint, "bytes", len(data), "error", err)
			continue
		}
		if skip {
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// pingLoop 定期发送 ping，写失败时关闭连接
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn("[relay] ping failed, closing", "endpoint", c.endpoint, "error", err)
				c.setErr(fmt.Errorf("relay ping: %w", err))
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
