package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/memory"
)

type nopWriteCloser struct{ bytes.Buffer }

func (n *nopWriteCloser) Close() error { return nil }

func TestProbeStreamsInputAndCollectsReplies(t *testing.T) {
	source, err := audio.NewFileSource(make([]byte, 3200), audio.Input16k, audio.Input16k)
	require.NoError(t, err)
	sink := audio.NewFileSink(&nopWriteCloser{})

	dialer := &memory.Dialer{Mode: memory.Direct}
	dialer.OnOpen(func(c *memory.Conn) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			c.Push([]byte(`{"event":{"textOutput":{"contentId":"a1","role":"ASSISTANT","content":"Hello there."}}}`))
			c.Push([]byte(`{"event":{"audioOutput":{"contentId":"a2","content":"AQIDBA=="}}}`))
		}()
	})

	devices := audio.FileDevices{Source: source, Sink: sink}
	manager := voice.NewManager(voice.Deps{
		Credentials: credentials.Static{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"},
		Dialer:      dialer,
		Sources:     devices,
		Sinks:       devices,
	}, voice.Options{ChunkInterval: 10 * time.Millisecond})

	var out bytes.Buffer
	summary, err := probe(context.Background(), manager, source, probeParams{
		start: conversation.StartConfig{Topic: "fractions"},
		wait:  100 * time.Millisecond,
	}, &out)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.sessionID)
	assert.Equal(t, []string{"Hello there."}, summary.texts)
	assert.Contains(t, out.String(), "[assistant] Hello there.")
	assert.Equal(t, 4, sink.Written())

	var names []string
	for _, frame := range dialer.Last().Written() {
		var env map[string]map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(frame, &env))
		for name := range env["event"] {
			names = append(names, name)
		}
	}
	assert.Contains(t, names, "audioInput")
	assert.Equal(t, "sessionEnd", names[len(names)-1])
	assert.Empty(t, manager.GetActiveSessions())
}

func TestVoicesCommand(t *testing.T) {
	var out bytes.Buffer
	voicesCmd.SetOut(&out)
	require.NoError(t, voicesCmd.RunE(voicesCmd, nil))
	assert.Contains(t, out.String(), "matthew (default)")
	assert.Contains(t, out.String(), "sunny")
}
