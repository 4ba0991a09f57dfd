package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter 把 16 位 PCM 从一个采样率转换到另一个，保留跨调用的滤波状态。
// 非并发安全。
type Converter struct {
	in, out   Format
	resampler resampling.Resampler
	carry     []byte
}

// NewConverter 创建转换器，采样率相同时为直通。
func NewConverter(in, out Format) (*Converter, error) {
	if in.BitsPerSample != 16 || out.BitsPerSample != 16 {
		return nil, fmt.Errorf("audio: only 16-bit PCM supported, got %d -> %d", in.BitsPerSample, out.BitsPerSample)
	}
	if in.Channels != out.Channels {
		return nil, fmt.Errorf("audio: channel conversion %d -> %d not supported", in.Channels, out.Channels)
	}

	c := &Converter{in: in, out: out}
	if in.SampleRate == out.SampleRate {
		return c, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(in.SampleRate),
		OutputRate: float64(out.SampleRate),
		Channels:   out.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	c.resampler = r
	return c, nil
}

// Passthrough 表示是否无需重采样。
func (c *Converter) Passthrough() bool {
	return c.resampler == nil
}

// Convert 处理一段 PCM，不足一帧的尾部字节留到下次。
func (c *Converter) Convert(pcm []byte) ([]byte, error) {
	if c.resampler == nil {
		return pcm, nil
	}

	data := pcm
	if len(c.carry) > 0 {
		data = append(c.carry, pcm...)
		c.carry = nil
	}
	frame := c.in.FrameBytes()
	usable := len(data) - len(data)%frame
	if usable < len(data) {
		c.carry = append([]byte(nil), data[usable:]...)
	}
	if usable == 0 {
		return nil, nil
	}

	output, err := c.resampler.Process(PCM16ToFloat(data[:usable]))
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return FloatToPCM16(output), nil
}

// PCM16ToFloat 把小端 int16 采样转换为 [-1, 1) 浮点。
func PCM16ToFloat(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(sample) / 32768.0
	}
	return out
}

// FloatToPCM16 把浮点采样转换为小端 int16，超出范围时截断。
func FloatToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
