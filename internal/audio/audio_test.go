package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSizes(t *testing.T) {
	assert.Equal(t, 32000, Input16k.BytesPerSecond())
	assert.Equal(t, 3200, Input16k.BytesFor(100*time.Millisecond))
	assert.Equal(t, 0, Input16k.BytesFor(0))
	assert.Equal(t, 48000, Output24k.BytesPerSecond())
}

func TestPCMFloatConversion(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}
	samples := PCM16ToFloat(pcm)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.0, samples[0])
	assert.InDelta(t, 1.0, samples[1], 0.001)
	assert.Equal(t, -1.0, samples[2])

	back := FloatToPCM16([]float64{0, 2.0, -2.0})
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}, back)
}

func TestConverter(t *testing.T) {
	same, err := NewConverter(Input16k, Input16k)
	require.NoError(t, err)
	assert.True(t, same.Passthrough())
	out, err := same.Convert([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	_, err = NewConverter(Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8}, Input16k)
	assert.Error(t, err)

	down, err := NewConverter(Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}, Input16k)
	require.NoError(t, err)
	assert.False(t, down.Passthrough())

	var total int
	for i := 0; i < 10; i++ {
		out, err := down.Convert(make([]byte, 9600))
		require.NoError(t, err)
		assert.Zero(t, len(out)%2)
		total += len(out)
	}
	// 一秒 48kHz 输入应产生接近一秒 16kHz 的输出
	assert.InDelta(t, 32000, total, 8000)
}

func TestBufferSource(t *testing.T) {
	src, err := NewBufferSource(Input16k, Input16k)
	require.NoError(t, err)

	chunk, err := src.Drain()
	require.NoError(t, err)
	assert.Empty(t, chunk)

	_, err = src.Write([]byte{1, 2})
	require.NoError(t, err)
	_, err = src.Write([]byte{3, 4})
	require.NoError(t, err)

	chunk, err = src.Drain()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunk)

	src.limit = 4
	_, err = src.Write([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	chunk, _ = src.Drain()
	assert.Equal(t, []byte{3, 4, 5, 6}, chunk)
	assert.Equal(t, 2, src.Dropped())

	require.NoError(t, src.Close())
	_, err = src.Write([]byte{1, 2})
	assert.ErrorIs(t, err, ErrSourceClosed)
	_, err = src.Drain()
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestFileSourcePacesInRealTime(t *testing.T) {
	data := make([]byte, 6400) // 200ms @ 16kHz
	src, err := NewFileSource(data, Input16k, Input16k)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, src.Duration())

	clock := time.Unix(0, 0)
	src.now = func() time.Time { return clock }

	chunk, err := src.Drain()
	require.NoError(t, err)
	assert.Empty(t, chunk)

	clock = clock.Add(100 * time.Millisecond)
	chunk, _ = src.Drain()
	assert.Len(t, chunk, 3200)

	clock = clock.Add(500 * time.Millisecond)
	chunk, _ = src.Drain()
	assert.Len(t, chunk, 3200)

	select {
	case <-src.Done():
	default:
		t.Fatal("expected Done after all data drained")
	}
}

func wavBytes(rate int, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestParseWAV(t *testing.T) {
	f, pcm, ok, err := parseWAV(wavBytes(16000, []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Input16k, f)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm)

	_, _, ok, err = parseWAV([]byte("not a wav file"))
	assert.NoError(t, err)
	assert.False(t, ok)

	src, err := NewFileSource(wavBytes(16000, make([]byte, 3200)), Output24k, Input16k)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, src.Duration())
}

type recordingSink struct {
	mu      sync.Mutex
	played  [][]byte
	flushed int
}

func (s *recordingSink) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, pcm)
	return nil
}

func (s *recordingSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed++
}

func (s *recordingSink) Close() error { return nil }

func TestHubRoutesAudio(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(Input16k)

	_, err := hub.OpenSource(ctx, "s1", Input16k)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	sink, err := hub.OpenSink(ctx, "s1", Output24k)
	require.NoError(t, err)
	require.NoError(t, sink.Play([]byte{1, 2}), "play without client is dropped")

	client := &recordingSink{}
	upstream, detach, err := hub.Attach("s1", Input16k, client)
	require.NoError(t, err)
	assert.True(t, hub.Attached("s1"))

	_, _ = upstream.Write([]byte{9, 9})
	src, err := hub.OpenSource(ctx, "s1", Input16k)
	require.NoError(t, err)

	_, _ = upstream.Write([]byte{5, 6})
	chunk, err := src.Drain()
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, chunk, "backlog before capture start is discarded")

	require.NoError(t, sink.Play([]byte{7, 8}))
	sink.(Flusher).Flush()
	assert.Equal(t, [][]byte{{7, 8}}, client.played)
	assert.Equal(t, 1, client.flushed)

	detach()
	assert.False(t, hub.Attached("s1"))
	chunk, err = src.Drain()
	require.NoError(t, err)
	assert.Empty(t, chunk)
}
