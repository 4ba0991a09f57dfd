package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
)

func TestDispatcherIsolatesPanickingListener(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.Subscribe(ListenerFunc(func(Event) { order = append(order, "first") }))
	d.Subscribe(ListenerFunc(func(Event) { panic("listener bug") }))
	rec := NewRecorder(0)
	d.Subscribe(rec)
	d.Subscribe(ListenerFunc(func(Event) { order = append(order, "last") }))

	require.NotPanics(t, func() {
		d.Dispatch("s1", EventTextOutput, TextOutput{Content: "hi"})
	})
	assert.Equal(t, []string{"first", "last"}, order)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, "s1", rec.Events()[0].SessionID)
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	rec := NewRecorder(0)
	cancel := d.Subscribe(rec)

	d.Dispatch("s1", EventWatchdog, nil)
	cancel()
	cancel()
	d.Dispatch("s1", EventWatchdog, nil)

	assert.Len(t, rec.Events(), 1)
}

func TestRecorderQueries(t *testing.T) {
	rec := NewRecorder(3)
	rec.OnEvent(Event{SessionID: "a", Type: EventTextOutput})
	rec.OnEvent(Event{SessionID: "b", Type: EventAudioOutput})
	rec.OnEvent(Event{SessionID: "a", Type: EventAudioOutput})
	rec.OnEvent(Event{SessionID: "a", Type: EventContentEnd})

	assert.Len(t, rec.Events(), 3, "oldest entry trimmed")
	assert.Len(t, rec.ByType(EventAudioOutput), 2)
	assert.Len(t, rec.ForSession("a"), 2)

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	a := r.Create(conversation.Metadata{Topic: "fractions"}, "matthew")
	b := r.Create(conversation.Metadata{Topic: "decimals"}, "amy")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, conversation.StateInitializing, a.State())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	assert.Empty(t, r.ListActive())
	_, ok := b.advance(conversation.StateStreaming)
	require.True(t, ok)
	active := r.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	r.Remove(a.ID)
	r.Remove("missing")
	_, err = r.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestSessionStateIsMonotonic(t *testing.T) {
	s := newSession(conversation.Metadata{}, "matthew", testNow)

	_, ok := s.advance(conversation.StateStreaming)
	assert.True(t, ok)
	_, ok = s.advance(conversation.StateStreaming)
	assert.False(t, ok, "same state is not a transition")
	_, ok = s.advance(conversation.StateClosed)
	assert.True(t, ok)
	from, ok := s.advance(conversation.StateClosing)
	assert.False(t, ok)
	assert.Equal(t, conversation.StateClosed, from)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed once Closed")
	}
}
