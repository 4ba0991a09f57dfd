package voice

import "errors"

var (
	// ErrSessionNotFound 会话不存在或已关闭。
	ErrSessionNotFound = errors.New("voice: session not found")
	// ErrSessionNotStreaming 会话尚未完成握手或正在关闭。
	ErrSessionNotStreaming = errors.New("voice: session is not streaming")
	// ErrSessionClosed 会话在操作过程中被关闭。
	ErrSessionClosed = errors.New("voice: session closed")
	// ErrCaptureActive 会话已经在采集音频。
	ErrCaptureActive = errors.New("voice: audio capture already active")
	// ErrTransportOpen 无法建立到推理端点的流。
	ErrTransportOpen = errors.New("voice: failed to open stream transport")
	// ErrHandshake 握手事件未能写出。
	ErrHandshake = errors.New("voice: handshake failed")
	// ErrEmptyText 文本消息为空。
	ErrEmptyText = errors.New("voice: text message is empty")
	// ErrTextUnavailable 未配置文本应答能力。
	ErrTextUnavailable = errors.New("voice: text responder not configured")
	// ErrMalformedFrame 入站帧不是合法的事件。
	ErrMalformedFrame = errors.New("voice: malformed inbound frame")
)
