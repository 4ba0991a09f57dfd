package audio

import (
	"bytes"
	"errors"
	"sync"
)

// ErrSourceClosed 表示输入源已关闭。
var ErrSourceClosed = errors.New("audio: source closed")

// defaultBufferLimit 约 10 秒 16kHz 单声道音频
const defaultBufferLimit = 320 * 1024

// BufferSource 是由外部推送 PCM 的输入源，例如浏览器麦克风。
// Write 与 Drain 可以并发调用。
type BufferSource struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	conv    *Converter
	limit   int
	dropped int
	closed  bool
}

// NewBufferSource 创建输入源，写入的 in 格式数据被转换为 out 格式。
func NewBufferSource(in, out Format) (*BufferSource, error) {
	conv, err := NewConverter(in, out)
	if err != nil {
		return nil, err
	}
	return &BufferSource{conv: conv, limit: defaultBufferLimit}, nil
}

// Write 追加一段 PCM。缓冲超限时丢弃最旧的数据。
func (b *BufferSource) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrSourceClosed
	}

	converted, err := b.conv.Convert(p)
	if err != nil {
		return 0, err
	}
	b.buf.Write(converted)

	if over := b.buf.Len() - b.limit; over > 0 {
		over += over % 2
		b.buf.Next(over)
		b.dropped += over
	}
	return len(p), nil
}

// Drain 实现 Source。
func (b *BufferSource) Drain() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrSourceClosed
	}
	if b.buf.Len() == 0 {
		return nil, nil
	}
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out, nil
}

// Dropped 返回因缓冲超限而丢弃的字节数。
func (b *BufferSource) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close 实现 Source。
func (b *BufferSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.buf.Reset()
	return nil
}
