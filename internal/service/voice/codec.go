package voice

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"
)

// EncodeEvent 把出站事件编码为 {"event":{"<name>":{...}}}。
func EncodeEvent(ev OutboundEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	envelope := map[string]map[string]json.RawMessage{
		"event": {ev.EventName(): body},
	}
	return json.Marshal(envelope)
}

// DecodeEvent 解析一条入站帧。无法识别的判别键返回 UnknownEvent 而不是错误；
// 只有非 UTF-8、非 JSON 或缺少 event 对象时返回 ErrMalformedFrame。
func DecodeEvent(payload []byte) (InboundEvent, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedFrame)
	}

	var envelope struct {
		Event map[string]json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(envelope.Event) == 0 {
		return nil, fmt.Errorf("%w: missing event object", ErrMalformedFrame)
	}

	// 正常情况下只有一个键；多于一个时按字典序取第一个，保证结果确定
	names := make([]string, 0, len(envelope.Event))
	for name := range envelope.Event {
		names = append(names, name)
	}
	sort.Strings(names)
	name := names[0]
	raw := envelope.Event[name]

	switch name {
	case nameContentStart:
		var ev ContentStarted
		return decodeBody(name, raw, &ev)
	case nameContentEnd:
		var ev ContentEnded
		return decodeBody(name, raw, &ev)
	case nameTextOutput:
		var ev TextOutput
		return decodeBody(name, raw, &ev)
	case nameAudioOutput:
		var ev AudioOutput
		return decodeBody(name, raw, &ev)
	case nameInferenceOutput:
		return InferenceOutput{Raw: cloneRaw(raw)}, nil
	case nameContentResponse:
		return ContentResponse{Raw: cloneRaw(raw)}, nil
	case nameToolUse:
		ev := ToolUse{Raw: cloneRaw(raw)}
		if _, err := decodeBody(name, raw, &ev); err != nil {
			return nil, err
		}
		ev.Raw = cloneRaw(raw)
		return ev, nil
	case nameSessionEnd:
		return SessionEnded{}, nil
	default:
		return UnknownEvent{Name: name, Raw: cloneRaw(raw)}, nil
	}
}

func decodeBody[T InboundEvent](name string, raw json.RawMessage, target *T) (InboundEvent, error) {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, name, err)
		}
	}
	return *target, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
