package relay

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	"github.com/zhouzirui/z-tutor/backend/internal/transport"
)

// 帧头与取值，和 Bedrock 事件流保持一致
const (
	headerMessageType     = ":message-type"
	headerEventType       = ":event-type"
	headerExceptionType   = ":exception-type"
	headerContentType     = ":content-type"
	headerContentEncoding = ":content-encoding"

	messageTypeEvent     = "event"
	messageTypeException = "exception"
	eventTypeChunk       = "chunk"
)

// encodeChunk 把一条 JSON 事件封装为事件流二进制帧。
func encodeChunk(enc *eventstream.Encoder, payload []byte, encoding ContentEncoding) ([]byte, error) {
	body, err := compressPayload(payload, encoding)
	if err != nil {
		return nil, err
	}

	headers := eventstream.Headers{
		{Name: headerMessageType, Value: eventstream.StringValue(messageTypeEvent)},
		{Name: headerEventType, Value: eventstream.StringValue(eventTypeChunk)},
		{Name: headerContentType, Value: eventstream.StringValue("application/json")},
	}
	if encoding != Identity {
		headers = append(headers, eventstream.Header{Name: headerContentEncoding, Value: eventstream.StringValue(string(encoding))})
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, eventstream.Message{Headers: headers, Payload: body}); err != nil {
		return nil, fmt.Errorf("encode event-stream frame: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeFrame 解析一条二进制帧。skip 为 true 表示该帧与会话无关（如心跳）。
func decodeFrame(dec *eventstream.Decoder, data []byte) (frame transport.Frame, skip bool, err error) {
	msg, err := dec.Decode(bytes.NewReader(data), nil)
	if err != nil {
		return transport.Frame{}, false, fmt.Errorf("decode event-stream frame: %w", err)
	}

	switch headerString(msg, headerMessageType) {
	case messageTypeException:
		return transport.Frame{Err: &transport.RemoteError{
			Kind:    transport.RemoteErrorKind(headerString(msg, headerExceptionType)),
			Message: string(msg.Payload),
		}}, false, nil
	case messageTypeEvent:
		if headerString(msg, headerEventType) != eventTypeChunk {
			return transport.Frame{}, true, nil
		}
		payload, err := decompressPayload(msg.Payload, ContentEncoding(headerString(msg, headerContentEncoding)))
		if err != nil {
			return transport.Frame{}, false, err
		}
		return transport.Frame{Payload: payload}, false, nil
	default:
		return transport.Frame{}, true, nil
	}
}

func headerString(msg eventstream.Message, name string) string {
	val := msg.Headers.Get(name)
	if val == nil {
		return ""
	}
	if str, ok := val.(eventstream.StringValue); ok {
		return string(str)
	}
	return val.String()
}
