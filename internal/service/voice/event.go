package voice

import (
	"encoding/json"
	"strings"
)

// 出站事件名
const (
	nameSessionStart  = "sessionStart"
	namePromptStart   = "promptStart"
	nameContentStart  = "contentStart"
	nameTextInput     = "textInput"
	nameContentEnd    = "contentEnd"
	nameAudioInput    = "audioInput"
	nameAudioInputEnd = "audioInputEnd"
	namePromptEnd     = "promptEnd"
	nameSessionEnd    = "sessionEnd"
)

// 入站事件名（除与出站同名的 contentStart/contentEnd/sessionEnd）
const (
	nameTextOutput      = "textOutput"
	nameAudioOutput     = "audioOutput"
	nameInferenceOutput = "inferenceOutput"
	nameContentResponse = "contentResponse"
	nameToolUse         = "toolUse"
)

// 内容类型与角色
const (
	ContentTypeText  = "TEXT"
	ContentTypeAudio = "AUDIO"

	RoleSystem    = "SYSTEM"
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// OutboundEvent 是发往推理端点的事件。
type OutboundEvent interface {
	EventName() string
}

// InferenceConfig 是 sessionStart 携带的推理参数。
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// MediaConfig 描述文本输入输出格式。
type MediaConfig struct {
	MediaType string `json:"mediaType"`
}

// AudioConfig 描述音频输入输出格式。
type AudioConfig struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	VoiceID         string `json:"voiceId,omitempty"`
	Encoding        string `json:"encoding"`
	AudioType       string `json:"audioType"`
}

var textPlain = MediaConfig{MediaType: "text/plain"}

// SessionStart 握手第一步。
type SessionStart struct {
	InferenceConfiguration InferenceConfig `json:"inferenceConfiguration"`
}

// PromptStart 握手第二步，声明输出格式与音色。
type PromptStart struct {
	PromptName               string      `json:"promptName"`
	TextOutputConfiguration  MediaConfig `json:"textOutputConfiguration"`
	AudioOutputConfiguration AudioConfig `json:"audioOutputConfiguration"`
}

// ContentStart 开始一段内容（系统指令或一轮音频输入）。
type ContentStart struct {
	PromptName              string       `json:"promptName"`
	ContentName             string       `json:"contentName"`
	Type                    string       `json:"type"`
	Interactive             bool         `json:"interactive"`
	Role                    string       `json:"role"`
	TextInputConfiguration  *MediaConfig `json:"textInputConfiguration,omitempty"`
	AudioInputConfiguration *AudioConfig `json:"audioInputConfiguration,omitempty"`
}

// TextInput 携带文本内容。
type TextInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// ContentEnd 结束一段内容。
type ContentEnd struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
}

// AudioInput 携带一块 base64 编码的麦克风音频。
type AudioInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// AudioInputEnd 请求端点对已发送的音频进行推理。
type AudioInputEnd struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
}

// PromptEnd 结束 prompt。
type PromptEnd struct {
	PromptName string `json:"promptName"`
}

// SessionEnd 结束会话。
type SessionEnd struct{}

func (SessionStart) EventName() string  { return nameSessionStart }
func (PromptStart) EventName() string   { return namePromptStart }
func (ContentStart) EventName() string  { return nameContentStart }
func (TextInput) EventName() string     { return nameTextInput }
func (ContentEnd) EventName() string    { return nameContentEnd }
func (AudioInput) EventName() string    { return nameAudioInput }
func (AudioInputEnd) EventName() string { return nameAudioInputEnd }
func (PromptEnd) EventName() string     { return namePromptEnd }
func (SessionEnd) EventName() string    { return nameSessionEnd }

// InboundEvent 是从推理端点收到的事件，具体类型见下方各结构体。
type InboundEvent interface {
	inbound()
}

// GenerationStage 取值
const (
	StageSpeculative = "SPECULATIVE"
	StageFinal       = "FINAL"
)

// ContentStarted 是入站 contentStart。
type ContentStarted struct {
	ContentID             string `json:"contentId"`
	Role                  string `json:"role"`
	Type                  string `json:"type"`
	AdditionalModelFields string `json:"additionalModelFields,omitempty"`
}

// GenerationStage 解析 additionalModelFields 中的生成阶段，缺省为空。
func (c ContentStarted) GenerationStage() string {
	if c.AdditionalModelFields == "" {
		return ""
	}
	var fields struct {
		GenerationStage string `json:"generationStage"`
	}
	if err := json.Unmarshal([]byte(c.AdditionalModelFields), &fields); err != nil {
		return ""
	}
	return fields.GenerationStage
}

// ContentEnded 是入站 contentEnd。
type ContentEnded struct {
	ContentID  string `json:"contentId"`
	Type       string `json:"type"`
	StopReason string `json:"stopReason,omitempty"`
}

// TextOutput 是助手（或用户语音识别）文本。
type TextOutput struct {
	ContentID string `json:"contentId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Interrupted 判断是否为用户插话标记 {"interrupted":true}。
func (t TextOutput) Interrupted() bool {
	trimmed := strings.TrimSpace(t.Content)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var marker struct {
		Interrupted bool `json:"interrupted"`
	}
	if err := json.Unmarshal([]byte(trimmed), &marker); err != nil {
		return false
	}
	return marker.Interrupted
}

// AudioOutput 携带 base64 编码的助手语音。
type AudioOutput struct {
	ContentID string `json:"contentId"`
	Content   string `json:"content"`
}

// InferenceOutput 原样转发。
type InferenceOutput struct {
	Raw json.RawMessage `json:"raw"`
}

// ContentResponse 原样转发。
type ContentResponse struct {
	Raw json.RawMessage `json:"raw"`
}

// ToolUse 是模型发起的工具调用，目前只做透传。
type ToolUse struct {
	ToolName  string          `json:"toolName"`
	ToolUseID string          `json:"toolUseId"`
	Content   string          `json:"content"`
	Raw       json.RawMessage `json:"raw"`
}

// SessionEnded 是入站 sessionEnd。
type SessionEnded struct{}

// UnknownEvent 是无法识别的事件，Name 为原始判别键。
type UnknownEvent struct {
	Name string          `json:"name"`
	Raw  json.RawMessage `json:"raw"`
}

func (ContentStarted) inbound()  {}
func (ContentEnded) inbound()    {}
func (TextOutput) inbound()      {}
func (AudioOutput) inbound()     {}
func (InferenceOutput) inbound() {}
func (ContentResponse) inbound() {}
func (ToolUse) inbound()         {}
func (SessionEnded) inbound()    {}
func (UnknownEvent) inbound()    {}
