package emotion

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/z-tutor/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
)

type stubModel struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (m *stubModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestAnalyzeUsesClassifier(t *testing.T) {
	stub := &stubModel{reply: "Sure! {\"emotion\":\"Anxious\",\"scale\":4.5,\"confidence\":0.8,\"style\":\"Be gentle.\",\"reason\":\"mentions exam\"}"}
	svc, err := NewService(context.Background(), stub, Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if !svc.Enabled() {
		t.Fatal("expected classifier enabled")
	}

	history := []transcript.Entry{{Role: transcript.RoleTutor, Content: "Let's review."}}
	g := svc.Analyze(context.Background(), conversation.Metadata{Topic: "fractions"}, history, "I have an exam tomorrow")
	if g.Decision.Emotion != analysis.Anxious {
		t.Fatalf("expected anxious, got %s", g.Decision.Emotion)
	}
	if g.Style != "Be gentle." || g.Confidence != 0.8 {
		t.Fatalf("unexpected guidance: %+v", g)
	}
	if len(stub.seen) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(stub.seen))
	}
}

func TestAnalyzeFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		model *stubModel
		cfg   Config
	}{
		{name: "disabled", model: &stubModel{}, cfg: Config{Enabled: false}},
		{name: "model error", model: &stubModel{err: errors.New("quota")}, cfg: Config{Enabled: true}},
		{name: "bad json", model: &stubModel{reply: "no idea"}, cfg: Config{Enabled: true}},
		{name: "unknown label", model: &stubModel{reply: `{"emotion":"happy"}`}, cfg: Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(context.Background(), tt.model, tt.cfg)
			if err != nil {
				t.Fatalf("NewService err: %v", err)
			}
			g := svc.Analyze(context.Background(), conversation.Metadata{}, nil, "this is too hard, I give up")
			if g.Reason != "fallback" {
				t.Fatalf("expected fallback guidance, got %+v", g)
			}
			if g.Decision.Emotion != analysis.Frustrated {
				t.Fatalf("expected frustrated from heuristics, got %s", g.Decision.Emotion)
			}
		})
	}
}
