package emotion

import (
	"context"
	"encoding/json"
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
)

// Config 控制学习情绪分析服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Guidance 表示情绪分析的结果以及对辅导语气的建议。
type Guidance struct {
	Decision   analysis.Decision `json:"decision"`
	Style      string            `json:"style"`
	Confidence float32           `json:"confidence"`
	Reason     string            `json:"reason"`
}

// Service 使用大模型判断学生当前的学习情绪，失败时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(utterance string) analysis.Decision
	historyLimit int
}

// NewService 创建情绪分析服务。chatModel 为空或未启用时只使用规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(emotionSystemPrompt),
		schema.UserMessage(emotionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了大模型分类。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Analyze 根据课程上下文、最近对话和学生最新发言给出语气建议。
func (s *Service) Analyze(ctx context.Context, meta conversation.Metadata, history []transcript.Entry, studentMessage string) Guidance {
	if !s.Enabled() {
		return s.fallbackGuidance(studentMessage)
	}

	input := map[string]any{
		"lesson":          summarizeLesson(meta),
		"history":         formatHistory(history, s.historyLimit),
		"student_message": strings.TrimSpace(studentMessage),
		"labels":          labelList(),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		logger.Warn("[emotion] classifier invoke failed, use fallback", "error", err)
		return s.fallbackGuidance(studentMessage)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackGuidance(studentMessage)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		logger.Warn("[emotion] classifier output parse failed, use fallback", "error", err)
		return s.fallbackGuidance(studentMessage)
	}

	label, ok := analysis.ParseLabel(result.Emotion)
	if !ok {
		return s.fallbackGuidance(studentMessage)
	}

	scale := clampScale(result.Scale)
	style := strings.TrimSpace(result.Style)
	if style == "" {
		style = defaultStyleByEmotion[label]
	}
	confidence := result.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Guidance{
		Decision:   analysis.Decision{Emotion: label, Scale: scale, Score: int(scale * 2)},
		Style:      style,
		Confidence: confidence,
		Reason:     strings.TrimSpace(result.Reason),
	}
}

func (s *Service) fallbackGuidance(studentMessage string) Guidance {
	fallback := analysis.Analyze
	if s != nil && s.fallback != nil {
		fallback = s.fallback
	}
	decision := fallback(studentMessage)

	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.55
	}
	return Guidance{
		Decision:   decision,
		Style:      defaultStyleByEmotion[decision.Emotion],
		Confidence: confidence,
		Reason:     "fallback",
	}
}

// parseClassifierOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func summarizeLesson(meta conversation.Metadata) string {
	sections := []string{}
	if topic := strings.TrimSpace(meta.Topic); topic != "" {
		sections = append(sections, "topic: "+topic)
	}
	if level := strings.TrimSpace(meta.Level); level != "" {
		sections = append(sections, "level: "+level)
	}
	if len(sections) == 0 {
		return "general tutoring"
	}
	return strings.Join(sections, " | ")
}

func formatHistory(entries []transcript.Entry, limit int) string {
	if len(entries) == 0 {
		return "(no earlier turns)"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(entries) - limit
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, e := range entries[start:] {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, content))
	}
	if len(lines) == 0 {
		return "(no earlier turns)"
	}
	return strings.Join(lines, "\n")
}

func labelList() string {
	labels := analysis.Labels()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}
	return strings.Join(names, "/")
}

func clampScale(val float32) float32 {
	if val <= 0 {
		return 3
	}
	if val < 1 {
		return 1
	}
	if val > 5 {
		return 5
	}
	return val
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Scale      float32 `json:"scale"`
	Confidence float32 `json:"confidence"`
	Style      string  `json:"style"`
	Reason     string  `json:"reason"`
}

const emotionSystemPrompt = "You analyse how a student feels during a tutoring conversation. " +
	"Read the lesson, the recent turns and the newest student message, then infer the student's learning emotion " +
	"and suggest the tone the tutor should use next.\n" +
	"Reply with a single JSON object only, with the fields emotion (one of {labels}), scale (1 to 5), " +
	"confidence (0 to 1), style (one sentence of tone advice) and reason (a short explanation)."

const emotionUserPrompt = "Lesson: {lesson}\n\nRecent turns:\n{history}\n\nNewest student message:\n{student_message}"

var defaultStyleByEmotion = map[analysis.Label]string{
	analysis.Neutral:    "Keep a calm, clear and patient tone.",
	analysis.Confused:   "Slow down, restate the idea with a simpler example and check understanding.",
	analysis.Frustrated: "Acknowledge the difficulty, lower the pace and offer a smaller next step.",
	analysis.Anxious:    "Reassure the student, keep sentences short and focus on one thing at a time.",
	analysis.Confident:  "Praise the progress briefly and offer a slightly harder challenge.",
	analysis.Curious:    "Encourage the question and explore it with a concrete example.",
}
