package transcript

import "time"

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Source records whether an entry came from the voice stream or the text path.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
)

// Entry persists individual turns for review.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Emotion   string    `json:"emotion,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session captures the transcript header of one conversation.
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic,omitempty"`
	Level     string    `json:"level,omitempty"`
	StudentID string    `json:"studentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}
