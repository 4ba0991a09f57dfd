package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/z-tutor/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
	emotionservice "github.com/zhouzirui/z-tutor/backend/internal/service/emotion"
)

const historyLimit = 10

// HistorySource 提供会话最近的转写记录。
type HistorySource interface {
	Recent(sessionID string, limit int) []transcript.Entry
}

// EmotionAnalyzer 给出学生情绪与语气建议。
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, meta conversation.Metadata, history []transcript.Entry, studentMessage string) emotionservice.Guidance
}

// Service answers typed student messages with the tutor persona of the session.
type Service struct {
	prompts  *Builder
	history  HistorySource
	emotions EmotionAnalyzer
	chain    compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the text reply chain. history and emotions are optional.
func NewService(ctx context.Context, chatModel model.BaseChatModel, prompts *Builder, history HistorySource, emotions EmotionAnalyzer) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt builder is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		prompts:  prompts,
		history:  history,
		emotions: emotions,
		chain:    runnable,
	}, nil
}

// Respond generates a single reply for a typed message.
func (s *Service) Respond(ctx context.Context, sessionID string, meta conversation.Metadata, text string) (string, error) {
	var entries []transcript.Entry
	if s.history != nil {
		entries = s.history.Recent(sessionID, historyLimit)
	}

	var guidance *emotionservice.Guidance
	if s.emotions != nil {
		g := s.emotions.Analyze(ctx, meta, entries, text)
		guidance = &g
	}

	system, err := s.buildSystemPrompt(ctx, meta, guidance)
	if err != nil {
		return "", err
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  system,
		"history": buildHistoryMessages(entries),
		"query":   text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("failed to run AI chain: empty response")
	}

	logger.Info("[ai] generated text reply", "session", sessionID, "level", meta.Level, "length", len(response.Content))
	return strings.TrimSpace(response.Content), nil
}

func (s *Service) buildSystemPrompt(ctx context.Context, meta conversation.Metadata, guidance *emotionservice.Guidance) (string, error) {
	base, err := s.prompts.BuildInstruction(ctx, meta)
	if err != nil {
		return "", err
	}
	if guidance == nil || guidance.Decision.Emotion == "" {
		return base, nil
	}

	decision := guidance.Decision
	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString("\n\nThe student's current learning state: ")
	if desc := describeEmotion(decision.Emotion); desc != "" {
		builder.WriteString(desc)
	} else {
		builder.WriteString("emotion=" + string(decision.Emotion) + ".")
	}
	builder.WriteString(fmt.Sprintf(" Intensity about %.1f of 5.", decision.Scale))
	if guidance.Style != "" {
		builder.WriteString("\nTone advice: ")
		builder.WriteString(guidance.Style)
	}
	if guidance.Reason != "" && guidance.Reason != "fallback" {
		builder.WriteString("\nReason: ")
		builder.WriteString(guidance.Reason)
	}
	builder.WriteString("\nThis is a typed message, so you may use short written notation, but stay as brief as in speech.")
	return builder.String(), nil
}

func buildHistoryMessages(entries []transcript.Entry) []*schema.Message {
	if len(entries) == 0 {
		return nil
	}

	startIdx := 0
	if len(entries) > historyLimit {
		startIdx = len(entries) - historyLimit
	}

	history := make([]*schema.Message, 0, len(entries)-startIdx)
	for _, e := range entries[startIdx:] {
		switch e.Role {
		case transcript.RoleStudent:
			history = append(history, schema.UserMessage(e.Content))
		case transcript.RoleTutor:
			history = append(history, schema.AssistantMessage(e.Content, nil))
		}
	}
	return history
}

func describeEmotion(label analysis.Label) string {
	switch label {
	case analysis.Confused:
		return "the student seems confused and needs a simpler explanation."
	case analysis.Frustrated:
		return "the student is frustrated and needs encouragement and a smaller step."
	case analysis.Anxious:
		return "the student is anxious and needs reassurance."
	case analysis.Confident:
		return "the student feels confident and can take on a harder question."
	case analysis.Curious:
		return "the student is curious and wants to explore further."
	case analysis.Neutral:
		return "the student is calm and attentive."
	default:
		return ""
	}
}
