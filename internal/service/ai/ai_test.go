package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/z-tutor/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	emotionservice "github.com/zhouzirui/z-tutor/backend/internal/service/emotion"
)

type fakeChatModel struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type fakeHistory []transcript.Entry

func (h fakeHistory) Recent(string, int) []transcript.Entry { return h }

type fixedEmotion emotionservice.Guidance

func (f fixedEmotion) Analyze(context.Context, conversation.Metadata, []transcript.Entry, string) emotionservice.Guidance {
	return emotionservice.Guidance(f)
}

func TestBuildInstructionUsesLevelProfile(t *testing.T) {
	b := NewBuilder(tutorStore())
	out, err := b.BuildInstruction(context.Background(), conversation.Metadata{
		Topic:            "quadratic equations",
		Level:            "High School",
		ContextFragments: []string{"  ", "The discriminant is b squared minus 4ac."},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "a calm high school mentor")
	assert.Contains(t, out, "Topic: quadratic equations")
	assert.Contains(t, out, "- The discriminant is b squared minus 4ac.")
	assert.Contains(t, out, "- Point out common exam traps")
}

func TestBuildInstructionFallsBackToDefaultLevel(t *testing.T) {
	b := NewBuilder(tutorStore())
	out, err := b.BuildInstruction(context.Background(), conversation.Metadata{Level: "kindergarten"})
	require.NoError(t, err)
	assert.Contains(t, out, "an encouraging middle school coach")
	assert.Contains(t, out, "Course material:\n(none provided)")
}

func TestLimitFragments(t *testing.T) {
	in := []string{"a", "b", "", "c", "d", "e", "f", "g"}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, limitFragments(in))
}

func TestRespondBuildsHistoryAndGuidance(t *testing.T) {
	chat := &fakeChatModel{reply: "  Try splitting the pizza into eight slices.  "}
	history := fakeHistory{
		{Role: transcript.RoleStudent, Content: "What is a fraction?"},
		{Role: transcript.RoleTutor, Content: "A part of a whole."},
	}
	guidance := fixedEmotion{
		Decision: analysis.Decision{Emotion: analysis.Confused, Scale: 4},
		Style:    "Use a picture.",
	}

	svc, err := NewService(context.Background(), chat, NewBuilder(tutorStore()), history, guidance)
	require.NoError(t, err)

	reply, err := svc.Respond(context.Background(), "s1", conversation.Metadata{Level: "elementary"}, "Why is 1/8 small?")
	require.NoError(t, err)
	assert.Equal(t, "Try splitting the pizza into eight slices.", reply)

	require.Len(t, chat.seen, 4)
	assert.Equal(t, schema.System, chat.seen[0].Role)
	assert.True(t, strings.Contains(chat.seen[0].Content, "seems confused"))
	assert.Contains(t, chat.seen[0].Content, "Tone advice: Use a picture.")
	assert.Equal(t, schema.User, chat.seen[1].Role)
	assert.Equal(t, schema.Assistant, chat.seen[2].Role)
	assert.Equal(t, "Why is 1/8 small?", chat.seen[3].Content)
}

func TestRespondPropagatesModelError(t *testing.T) {
	chat := &fakeChatModel{err: errors.New("throttled")}
	svc, err := NewService(context.Background(), chat, NewBuilder(tutorStore()), nil, nil)
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), "s1", conversation.Metadata{}, "hi")
	assert.Error(t, err)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(context.Background(), nil, NewBuilder(tutorStore()), nil, nil)
	assert.Error(t, err)
}

func tutorStore() *tutor.MemoryStore {
	return tutor.NewMemoryStore(tutor.Seed())
}
