// Package audio 定义会话使用的音频输入源与输出端，以及 PCM 处理工具。
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable 表示无法获取音频设备（客户端未连接、文件不可读等）。
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Format 描述线性 PCM 格式，只支持 16 位小端整数采样。
type Format struct {
	SampleRate    int `json:"sampleRate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bitsPerSample"`
}

var (
	// Input16k 是送往模型的麦克风格式。
	Input16k = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	// Output24k 是模型返回的语音格式。
	Output24k = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
)

// FrameBytes 返回单个采样帧的字节数。
func (f Format) FrameBytes() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	bits := f.BitsPerSample
	if bits <= 0 {
		bits = 16
	}
	return channels * bits / 8
}

// BytesPerSecond 返回该格式每秒的字节数。
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameBytes()
}

// BytesFor 返回时长 d 对应的字节数，按帧对齐。
func (f Format) BytesFor(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.FrameBytes()
}

// Source 是定时拉取的音频输入源。
type Source interface {
	// Drain 返回自上次调用以来采集到的 PCM，可能为空。
	Drain() ([]byte, error)
	Close() error
}

// Sink 播放解码后的 PCM。
type Sink interface {
	Play(pcm []byte) error
	Close() error
}

// Flusher 由支持打断的输出端实现，丢弃尚未播放的音频。
type Flusher interface {
	Flush()
}

// SourceProvider 为会话获取音频输入源。
type SourceProvider interface {
	OpenSource(ctx context.Context, sessionID string, f Format) (Source, error)
}

// SinkProvider 为会话获取音频输出端。
type SinkProvider interface {
	OpenSink(ctx context.Context, sessionID string, f Format) (Sink, error)
}
