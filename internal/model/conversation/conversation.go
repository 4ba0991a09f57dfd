// Package conversation 定义实时语音会话对外暴露的数据结构。
package conversation

import (
	"fmt"
	"time"
)

// State 是会话生命周期状态，只允许向前推进。
type State int

const (
	StateInitializing State = iota
	StateStreaming
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateInitializing: "initializing",
	StateStreaming:    "streaming",
	StateClosing:      "closing",
	StateClosed:       "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText 让状态在 JSON 中以名称出现。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析状态名称。
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown conversation state %q", text)
}

// Metadata 是会话的教学上下文，原样传给提示词构建。
type Metadata struct {
	Topic            string   `json:"topic,omitempty"`
	CourseID         string   `json:"courseId,omitempty"`
	StudentID        string   `json:"studentId,omitempty"`
	Level            string   `json:"level,omitempty"`
	ContextFragments []string `json:"contextFragments,omitempty"`
}

// StartConfig 是创建会话的请求参数。
type StartConfig struct {
	Topic            string   `json:"topic"`
	CourseID         string   `json:"courseId,omitempty"`
	StudentID        string   `json:"studentId,omitempty"`
	Level            string   `json:"level,omitempty"`
	ContextFragments []string `json:"contextFragments,omitempty"`

	VoiceID string `json:"voiceId,omitempty"`
	// SystemPrompt 非空时直接作为系统指令，跳过模板构建
	SystemPrompt string `json:"systemPrompt,omitempty"`

	MaxTokens   *int     `json:"maxTokens,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Metadata 提取教学上下文。
func (c StartConfig) Metadata() Metadata {
	return Metadata{
		Topic:            c.Topic,
		CourseID:         c.CourseID,
		StudentID:        c.StudentID,
		Level:            c.Level,
		ContextFragments: append([]string(nil), c.ContextFragments...),
	}
}

// SessionInfo 是会话在某一时刻的只读快照。
type SessionInfo struct {
	ID               string    `json:"id"`
	State            State     `json:"state"`
	PromptName       string    `json:"promptName"`
	ContentName      string    `json:"contentName"`
	AudioContentName string    `json:"audioContentName"`
	UseDirectWrite   bool      `json:"useDirectWrite"`
	QueueLength      int       `json:"queueLength"`
	Capturing        bool      `json:"capturing"`
	Turns            int       `json:"turns"`
	VoiceID          string    `json:"voiceId"`
	Metadata         Metadata  `json:"metadata"`
	CreatedAt        time.Time `json:"createdAt"`
}
