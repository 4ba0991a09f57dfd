// Package transport 定义实时语音流的双向传输抽象。
//
// 一个 Conn 代表与远端推理端点之间的一条双向流：入站方向是按序到达的 Frame，
// 出站方向由 Sink 描述。Sink 有两种形态，在流建立时解析一次：
// DirectSink 直接写入流本身，BufferedSink 需要先获取一个专用的写句柄。
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
)

// ErrClosed 表示对已关闭的连接执行写入。
var ErrClosed = errors.New("transport: connection closed")

// RemoteErrorKind 是远端在流内报告的错误类别。
type RemoteErrorKind string

const (
	ModelStreamError    RemoteErrorKind = "modelStreamErrorException"
	InternalServerError RemoteErrorKind = "internalServerException"
)

// RemoteError 是远端以流内事件形式下发的错误，不会中断入站读取。
type RemoteError struct {
	Kind    RemoteErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Frame 是一条入站消息。Err 非空时 Payload 无意义。
type Frame struct {
	Payload []byte
	Err     *RemoteError
}

// FrameWriter 写出一条已编码的出站事件。
type FrameWriter interface {
	WriteFrame(ctx context.Context, payload []byte) error
}

// Sink 是出站方向的能力描述，只有 DirectSink 与 BufferedSink 两种实现。
type Sink interface {
	sink()
}

// DirectSink 表示流本身可直接写入。
type DirectSink struct {
	Writer FrameWriter
}

// BufferedSink 表示需要先通过 Open 获取专用写句柄。
type BufferedSink struct {
	Open func() (FrameWriter, error)
}

func (DirectSink) sink()   {}
func (BufferedSink) sink() {}

// ResolveWriter 根据 Sink 的形态取得写句柄，direct 表示是否走直写路径。
func ResolveWriter(s Sink) (w FrameWriter, direct bool, err error) {
	switch v := s.(type) {
	case DirectSink:
		if v.Writer == nil {
			return nil, false, errors.New("transport: direct sink without writer")
		}
		return v.Writer, true, nil
	case BufferedSink:
		if v.Open == nil {
			return nil, false, errors.New("transport: buffered sink without opener")
		}
		w, err := v.Open()
		if err != nil {
			return nil, false, fmt.Errorf("transport: open buffered writer: %w", err)
		}
		return w, false, nil
	default:
		return nil, false, fmt.Errorf("transport: unsupported sink %T", s)
	}
}

// Conn 是一条已建立的双向流。
type Conn interface {
	// Sink 返回出站方向的能力描述。
	Sink() Sink
	// Frames 返回入站消息序列，流结束时关闭。
	Frames() <-chan Frame
	// Err 在 Frames 关闭后返回导致结束的致命错误；正常结束为 nil。
	Err() error
	Close() error
}

// Endpoint 描述远端推理端点。
type Endpoint struct {
	Region  string
	ModelID string
	// URL 仅中继传输使用。
	URL string
}

// Dialer 建立到远端的双向流。
type Dialer interface {
	Open(ctx context.Context, ep Endpoint, creds credentials.Credentials) (Conn, error)
}
