package voice

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventEnvelope(t *testing.T) {
	payload, err := EncodeEvent(SessionStart{InferenceConfiguration: InferenceConfig{MaxTokens: 1024, TopP: 0.9, Temperature: 0.7}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":{"sessionStart":{"inferenceConfiguration":{"maxTokens":1024,"topP":0.9,"temperature":0.7}}}}`, string(payload))

	payload, err = EncodeEvent(SessionEnd{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":{"sessionEnd":{}}}`, string(payload))

	payload, err = EncodeEvent(ContentStart{PromptName: "p", ContentName: "c", Type: ContentTypeText, Interactive: true, Role: RoleSystem, TextInputConfiguration: &textPlain})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":{"contentStart":{"promptName":"p","contentName":"c","type":"TEXT","interactive":true,"role":"SYSTEM","textInputConfiguration":{"mediaType":"text/plain"}}}}`, string(payload))

	_, err = EncodeEvent(nil)
	assert.Error(t, err)
}

func TestDecodeEventVocabulary(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    InboundEvent
	}{
		{
			name:    "content start",
			payload: `{"event":{"contentStart":{"contentId":"c1","role":"ASSISTANT","type":"TEXT","additionalModelFields":"{\"generationStage\":\"SPECULATIVE\"}"}}}`,
			want:    ContentStarted{ContentID: "c1", Role: "ASSISTANT", Type: "TEXT", AdditionalModelFields: `{"generationStage":"SPECULATIVE"}`},
		},
		{
			name:    "content end",
			payload: `{"event":{"contentEnd":{"contentId":"c1","type":"AUDIO","stopReason":"END_TURN"}}}`,
			want:    ContentEnded{ContentID: "c1", Type: "AUDIO", StopReason: "END_TURN"},
		},
		{
			name:    "text output",
			payload: `{"event":{"textOutput":{"contentId":"c2","role":"ASSISTANT","content":"Half of four is two."}}}`,
			want:    TextOutput{ContentID: "c2", Role: "ASSISTANT", Content: "Half of four is two."},
		},
		{
			name:    "audio output",
			payload: `{"event":{"audioOutput":{"contentId":"c3","content":"AQID"}}}`,
			want:    AudioOutput{ContentID: "c3", Content: "AQID"},
		},
		{
			name:    "session end",
			payload: `{"event":{"sessionEnd":{}}}`,
			want:    SessionEnded{},
		},
		{
			name:    "inference output",
			payload: `{"event":{"inferenceOutput":{"text":"hi"}}}`,
			want:    InferenceOutput{Raw: json.RawMessage(`{"text":"hi"}`)},
		},
		{
			name:    "content response",
			payload: `{"event":{"contentResponse":{"text":"ok"}}}`,
			want:    ContentResponse{Raw: json.RawMessage(`{"text":"ok"}`)},
		},
		{
			name:    "unknown",
			payload: `{"event":{"usageEvent":{"totalTokens":12}}}`,
			want:    UnknownEvent{Name: "usageEvent", Raw: json.RawMessage(`{"totalTokens":12}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeToolUseKeepsRawBody(t *testing.T) {
	got, err := DecodeEvent([]byte(`{"event":{"toolUse":{"toolName":"lookup","toolUseId":"t1","content":"{}"}}}`))
	require.NoError(t, err)
	tool, ok := got.(ToolUse)
	require.True(t, ok)
	assert.Equal(t, "lookup", tool.ToolName)
	assert.Equal(t, "t1", tool.ToolUseID)
	assert.JSONEq(t, `{"toolName":"lookup","toolUseId":"t1","content":"{}"}`, string(tool.Raw))
}

func TestDecodeEventMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":      []byte("hello"),
		"invalid utf8":  {0xff, 0xfe, 0xfd},
		"missing event": []byte(`{"other":{}}`),
		"empty event":   []byte(`{"event":{}}`),
		"bad body":      []byte(`{"event":{"textOutput":"oops"}}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent(payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame))
		})
	}
}

func TestTextOutputInterrupted(t *testing.T) {
	assert.True(t, TextOutput{Content: `{ "interrupted" : true }`}.Interrupted())
	assert.False(t, TextOutput{Content: `{"interrupted":false}`}.Interrupted())
	assert.False(t, TextOutput{Content: "interrupted"}.Interrupted())
}

func TestContentStartedGenerationStage(t *testing.T) {
	assert.Equal(t, StageFinal, ContentStarted{AdditionalModelFields: `{"generationStage":"FINAL"}`}.GenerationStage())
	assert.Empty(t, ContentStarted{}.GenerationStage())
	assert.Empty(t, ContentStarted{AdditionalModelFields: "garbage"}.GenerationStage())
}

func TestNormalizeVoiceID(t *testing.T) {
	tests := []struct {
		voice, fallback, want string
	}{
		{"Matthew", "", "matthew"},
		{" tiffany ", "", "tiffany"},
		{"female", "", "tiffany"},
		{"en-GB", "", "amy"},
		{"robot", "amy", "amy"},
		{"", "nonexistent", DefaultVoiceID},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVoiceID(tt.voice, tt.fallback), "voice %q", tt.voice)
	}
}
