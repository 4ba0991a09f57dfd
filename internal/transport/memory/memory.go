// Package memory 提供进程内的传输实现，用于测试与本地联调。
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// Mode 决定连接暴露的 Sink 形态。
type Mode int

const (
	Direct Mode = iota
	Buffered
)

const inboundBuffer = 256

// Conn 是内存中的双向流。写出的帧被记录，入站帧由测试通过 Push 注入。
type Conn struct {
	mode Mode

	inMu     sync.RWMutex
	frames   chan transport.Frame
	inClosed bool
	err      error

	mu          sync.Mutex
	written     [][]byte
	writeErr    error
	closed      bool
	writerOpens int
	onWrite     func([]byte)
}

// NewConn 创建指定模式的连接。
func NewConn(mode Mode) *Conn {
	return &Conn{
		mode:   mode,
		frames: make(chan transport.Frame, inboundBuffer),
	}
}

// Sink 实现 transport.Conn。
func (c *Conn) Sink() transport.Sink {
	if c.mode == Buffered {
		return transport.BufferedSink{Open: func() (transport.FrameWriter, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return nil, transport.ErrClosed
			}
			c.writerOpens++
			return writerFunc(c.write), nil
		}}
	}
	return transport.DirectSink{Writer: writerFunc(c.write)}
}

// Frames 实现 transport.Conn。
func (c *Conn) Frames() <-chan transport.Frame {
	return c.frames
}

// Err 实现 transport.Conn。
func (c *Conn) Err() error {
	c.inMu.RLock()
	defer c.inMu.RUnlock()
	return c.err
}

// Close 关闭连接，入站序列随之结束。
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.EndInbound(nil)
	return nil
}

// Push 注入一条入站帧，连接已结束时丢弃。
func (c *Conn) Push(payload []byte) bool {
	return c.push(transport.Frame{Payload: append([]byte(nil), payload...)})
}

// PushError 注入一条流内错误。
func (c *Conn) PushError(kind transport.RemoteErrorKind, message string) bool {
	return c.push(transport.Frame{Err: &transport.RemoteError{Kind: kind, Message: message}})
}

func (c *Conn) push(f transport.Frame) bool {
	c.inMu.RLock()
	defer c.inMu.RUnlock()
	if c.inClosed {
		return false
	}
	c.frames <- f
	return true
}

// EndInbound 结束入站序列，err 为致命错误（可为 nil）。
func (c *Conn) EndInbound(err error) {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.inClosed {
		return
	}
	c.inClosed = true
	c.err = err
	close(c.frames)
}

// FailWrites 使后续写入返回 err，传 nil 恢复。
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// OnWrite 注册写入回调，在记录帧之后同步调用。
func (c *Conn) OnWrite(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// Written 返回已成功写出的帧副本。
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	for i, p := range c.written {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Closed 报告连接是否已关闭。
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WriterOpens 返回缓冲写句柄被获取的次数。
func (c *Conn) WriterOpens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writerOpens
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, append([]byte(nil), payload...))
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(payload)
	}
	return nil
}

type writerFunc func(ctx context.Context, payload []byte) error

func (f writerFunc) WriteFrame(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// ErrDialRefused 是 Dialer 在 Refuse 之后返回的错误。
var ErrDialRefused = errors.New("memory: dial refused")

// Dialer 每次 Open 创建一条新的内存连接。
type Dialer struct {
	Mode Mode

	mu     sync.Mutex
	conns  []*Conn
	refuse error
	onOpen func(*Conn)
	creds  []credentials.Credentials
}

// Refuse 让后续 Open 返回 err，传 nil 恢复。
func (d *Dialer) Refuse(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = err
}

// OnOpen 注册连接建立后的回调，可用于预先配置连接行为。
func (d *Dialer) OnOpen(fn func(*Conn)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

// Open 实现 transport.Dialer。
func (d *Dialer) Open(ctx context.Context, _ transport.Endpoint, creds credentials.Credentials) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.refuse != nil {
		err := d.refuse
		d.mu.Unlock()
		return nil, err
	}
	conn := NewConn(d.Mode)
	d.conns = append(d.conns, conn)
	d.creds = append(d.creds, creds)
	hook := d.onOpen
	d.mu.Unlock()

	if hook != nil {
		hook(conn)
	}
	return conn, nil
}

// Last 返回最近一次建立的连接。
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Opened 返回已建立的连接数。
func (d *Dialer) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// LastCredentials 返回最近一次 Open 收到的凭证。
func (d *Dialer) LastCredentials() credentials.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.creds) == 0 {
		return credentials.Credentials{}
	}
	return d.creds[len(d.creds)-1]
}
