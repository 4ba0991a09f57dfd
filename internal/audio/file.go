package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileSource 以实时速率回放一段 PCM/WAV 数据，模拟麦克风输入。
type FileSource struct {
	mu      sync.Mutex
	data    []byte
	offset  int
	format  Format
	started time.Time
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewFileSource 从 data 创建输入源。WAV 数据会被解析，裸 PCM 视为 f 格式。
// 数据会被转换为 out 格式。
func NewFileSource(data []byte, f, out Format) (*FileSource, error) {
	if wavFormat, pcm, ok, err := parseWAV(data); err != nil {
		return nil, err
	} else if ok {
		f, data = wavFormat, pcm
	}

	conv, err := NewConverter(f, out)
	if err != nil {
		return nil, err
	}
	converted, err := conv.Convert(data)
	if err != nil {
		return nil, err
	}

	return &FileSource{
		data:   converted,
		format: out,
		now:    time.Now,
		done:   make(chan struct{}),
	}, nil
}

// Drain 返回按时间推进应当"录到"的数据。数据耗尽后返回空并关闭 Done。
func (s *FileSource) Drain() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	now := s.now()
	if s.started.IsZero() {
		s.started = now
		return nil, nil
	}

	target := s.format.BytesFor(now.Sub(s.started))
	if target > len(s.data) {
		target = len(s.data)
	}
	if target <= s.offset {
		return nil, nil
	}

	chunk := s.data[s.offset:target]
	s.offset = target
	if s.offset == len(s.data) {
		s.finish()
	}
	return chunk, nil
}

// Done 在数据全部读出后关闭。
func (s *FileSource) Done() <-chan struct{} {
	return s.done
}

// Duration 返回数据总时长。
func (s *FileSource) Duration() time.Duration {
	return time.Duration(int64(len(s.data)) * int64(time.Second) / int64(s.format.BytesPerSecond()))
}

// Close 实现 Source。
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.finish()
	return nil
}

func (s *FileSource) finish() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// FileSink 把收到的 PCM 追加写入 io.Writer。
type FileSink struct {
	mu      sync.Mutex
	w       io.WriteCloser
	written int
}

// NewFileSink 创建输出端，Close 时关闭 w。
func NewFileSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

// Play 实现 Sink。
func (s *FileSink) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(pcm)
	s.written += n
	return err
}

// Written 返回已写入的字节数。
func (s *FileSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close 实现 Sink。
func (s *FileSink) Close() error {
	return s.w.Close()
}

// FileDevices 为命令行工具提供固定的输入源与输出端。
type FileDevices struct {
	Source *FileSource
	Sink   Sink
}

// OpenSource 实现 SourceProvider。
func (d FileDevices) OpenSource(_ context.Context, _ string, _ Format) (Source, error) {
	if d.Source == nil {
		return nil, ErrDeviceUnavailable
	}
	return d.Source, nil
}

// OpenSink 实现 SinkProvider。
func (d FileDevices) OpenSink(_ context.Context, _ string, _ Format) (Sink, error) {
	if d.Sink == nil {
		return nil, ErrDeviceUnavailable
	}
	return d.Sink, nil
}

// LoadFileSource 读取文件并创建输入源。
func LoadFileSource(path string, f, out Format) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return NewFileSource(data, f, out)
}

// parseWAV 解析 PCM WAV，返回格式与数据块。非 WAV 数据返回 ok=false。
func parseWAV(data []byte) (Format, []byte, bool, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Format{}, nil, false, nil
	}

	var f Format
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, true, fmt.Errorf("audio: wav fmt chunk too short")
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 {
				return Format{}, nil, true, fmt.Errorf("audio: unsupported wav encoding %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, true, fmt.Errorf("audio: wav data before fmt chunk")
			}
			return f, data[body : body+size], true, nil
		}
		pos = body + size + size%2
	}
	return Format{}, nil, true, fmt.Errorf("audio: wav without data chunk")
}
