package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
)

// maxContextFragments 限制拼进系统提示词的课程片段数量。
const maxContextFragments = 5

const tutorSystemTemplate = `You are {title}. Speak in a {tone} way.

Lesson:
- Topic: {topic}
- Learner level: {level}

Teaching hints: {hint}

Strategies:
{strategies}

Course material:
{context}

You are talking with the student by voice. Keep each reply to two or three short sentences, never read out lists or formulas symbol by symbol, and end with a question that checks understanding.
Suggested opening: {opening}`

// Builder 根据学段选择辅导风格，生成语音会话的系统提示词。
type Builder struct {
	tutors   tutor.Store
	template prompt.ChatTemplate
}

// NewBuilder creates a prompt builder backed by the tutor store.
func NewBuilder(tutors tutor.Store) *Builder {
	return &Builder{
		tutors: tutors,
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(tutorSystemTemplate),
		),
	}
}

// Profile resolves the tutor profile used for a learner level.
func (b *Builder) Profile(level string) (tutor.Profile, bool) {
	if b == nil || b.tutors == nil {
		return tutor.Profile{}, false
	}
	return tutor.Resolve(b.tutors, level)
}

// BuildInstruction renders the system prompt for a conversation.
func (b *Builder) BuildInstruction(ctx context.Context, meta conversation.Metadata) (string, error) {
	profile, ok := b.Profile(meta.Level)
	if !ok {
		profile = tutor.Profile{
			Title: "a patient tutor",
			Tone:  "clear and encouraging",
		}
	}

	msgs, err := b.template.Format(ctx, promptVars(profile, meta))
	if err != nil {
		return "", fmt.Errorf("format tutor prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("format tutor prompt: empty result")
	}
	return msgs[0].Content, nil
}

func promptVars(profile tutor.Profile, meta conversation.Metadata) map[string]any {
	level := strings.TrimSpace(meta.Level)
	if level == "" {
		level = profile.Level
	}
	if level == "" {
		level = tutor.DefaultLevel
	}

	return map[string]any{
		"title":      profile.Title,
		"tone":       profile.Tone,
		"hint":       orDefault(profile.PromptHint, "Use simple, concrete examples."),
		"strategies": bulletList(profile.Strategies, "- Check understanding after every explanation"),
		"topic":      orDefault(meta.Topic, "whatever the student wants to practise"),
		"level":      level,
		"context":    bulletList(limitFragments(meta.ContextFragments), "(none provided)"),
		"opening":    orDefault(profile.OpeningLine, "Hi! What would you like to work on?"),
	}
}

func limitFragments(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
		if len(out) == maxContextFragments {
			break
		}
	}
	return out
}

func bulletList(items []string, empty string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	if len(lines) == 0 {
		return empty
	}
	return strings.Join(lines, "\n")
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
