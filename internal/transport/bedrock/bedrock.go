// Package bedrock 通过 Bedrock Runtime 的双向流接口连接 Nova Sonic。
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

const (
	DefaultModelID = "amazon.nova-sonic-v1:0"
	inboundBuffer  = 64
)

// Dialer 为每个会话打开一条 InvokeModelWithBidirectionalStream 流。
type Dialer struct{}

// NewDialer 创建 Bedrock 拨号器。
func NewDialer() *Dialer {
	return &Dialer{}
}

// Open 实现 transport.Dialer。流的生命周期独立于 ctx，由 Conn.Close 结束。
func (d *Dialer) Open(ctx context.Context, ep transport.Endpoint, creds credentials.Credentials) (transport.Conn, error) {
	modelID := ep.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(ep.Region),
		awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(credentials.SDKProvider(credentials.Static(creds)))),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := bedrockruntime.NewFromConfig(cfg)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	out, err := client.InvokeModelWithBidirectionalStream(streamCtx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(modelID),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invoke bidirectional stream: %w", err)
	}

	c := &Conn{
		stream: out.GetStream(),
		frames: make(chan transport.Frame, inboundBuffer),
		ctx:    streamCtx,
		cancel: cancel,
	}
	go c.readLoop()

	logger.Info("[bedrock] stream opened", "model", modelID, "region", ep.Region)
	return c, nil
}

// Conn 包装 Bedrock 事件流。SDK 的事件流可直接发送，因此暴露 DirectSink。
type Conn struct {
	stream *bedrockruntime.InvokeModelWithBidirectionalStreamEventStream
	frames chan transport.Frame
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Sink 实现 transport.Conn。
func (c *Conn) Sink() transport.Sink {
	return transport.DirectSink{Writer: c}
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

// WriteFrame 把一条事件作为 chunk 发送到流上。
func (c *Conn) WriteFrame(ctx context.Context, payload []byte) error {
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	return c.stream.Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: types.BidirectionalInputPayloadPart{Bytes: payload},
	})
}

// Close 关闭流。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.Close()
		c.cancel()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.frames)

	for event := range c.stream.Events() {
		chunk, ok := event.(*types.InvokeModelWithBidirectionalStreamOutputMemberChunk)
		if !ok {
			logger.Debug("[bedrock] ignoring stream member", "type", fmt.Sprintf("%T", event))
			continue
		}
		if !c.deliver(transport.Frame{Payload: chunk.Value.Bytes}) {
			return
		}
	}

	err := c.stream.Err()
	if err == nil {
		return
	}
	if remote := classify(err); remote != nil {
		c.deliver(transport.Frame{Err: remote})
		return
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Conn) deliver(f transport.Frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// classify 把 SDK 的流内异常映射为 RemoteError，其余错误视为致命。
func classify(err error) *transport.RemoteError {
	var modelErr *types.ModelStreamErrorException
	if errors.As(err, &modelErr) {
		return &transport.RemoteError{Kind: transport.ModelStreamError, Message: modelErr.ErrorMessage()}
	}
	var internalErr *types.InternalServerException
	if errors.As(err, &internalErr) {
		return &transport.RemoteError{Kind: transport.InternalServerError, Message: internalErr.ErrorMessage()}
	}
	return nil
}
