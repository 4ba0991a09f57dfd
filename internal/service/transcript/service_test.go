package transcript_test

import (
	"context"
	"testing"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	model "github.com/zhouzirui/z-tutor/backend/internal/model/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

func TestServiceOpenAndLoad(t *testing.T) {
	svc := transcript.NewService()
	ctx := context.Background()

	session, err := svc.Open(ctx, "s1", conversation.Metadata{Topic: "fractions", Level: "elementary"})
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if session.Topic != "fractions" {
		t.Fatalf("unexpected topic: %s", session.Topic)
	}

	if _, err := svc.Append(ctx, model.Entry{SessionID: "s1", Role: model.RoleStudent, Content: "hello"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	entries, err := svc.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(entries) != 1 || entries[0].ID == "" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestServiceLoadNotFound(t *testing.T) {
	svc := transcript.NewService()
	ctx := context.Background()

	if _, err := svc.Load(ctx, "missing"); err != transcript.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Open(ctx, "", conversation.Metadata{}); err != transcript.ErrSessionRequired {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}

func TestServiceRecordsDispatchedText(t *testing.T) {
	svc := transcript.NewService()
	d := voice.NewDispatcher()
	d.Subscribe(svc)

	d.Dispatch("s1", voice.EventTextOutput, voice.TextOutput{ContentID: "u1", Role: "USER", Content: "I don't understand fractions??"})
	d.Dispatch("s1", voice.EventContentStart, voice.ContentStarted{
		ContentID:             "a1",
		Role:                  "ASSISTANT",
		Type:                  "TEXT",
		AdditionalModelFields: `{"generationStage":"SPECULATIVE"}`,
	})
	d.Dispatch("s1", voice.EventTextOutput, voice.TextOutput{ContentID: "a1", Role: "ASSISTANT", Content: "draft answer"})
	d.Dispatch("s1", voice.EventContentEnd, voice.ContentEnded{ContentID: "a1", Type: "TEXT"})
	d.Dispatch("s1", voice.EventTextOutput, voice.TextOutput{ContentID: "a2", Role: "ASSISTANT", Content: "A fraction is a part of a whole."})
	d.Dispatch("s1", voice.EventTextMessage, voice.TextExchange{Prompt: "And 1/2?", Reply: "One of two equal parts."})

	entries := svc.Recent("s1", 0)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Role != model.RoleStudent || entries[0].Emotion != "confused" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Content != "A fraction is a part of a whole." || entries[1].Source != model.SourceVoice {
		t.Fatalf("speculative text should be skipped, got %+v", entries[1])
	}
	if entries[3].Role != model.RoleTutor || entries[3].Source != model.SourceText {
		t.Fatalf("unexpected text reply entry: %+v", entries[3])
	}

	if recent := svc.Recent("s1", 2); len(recent) != 2 || recent[1].Content != "One of two equal parts." {
		t.Fatalf("unexpected recent entries: %+v", recent)
	}
}

func TestServiceMarksSessionEnded(t *testing.T) {
	svc := transcript.NewService()
	ctx := context.Background()
	if _, err := svc.Open(ctx, "s1", conversation.Metadata{}); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	ended := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.OnEvent(voice.Event{
		SessionID: "s1",
		Type:      voice.EventStateChanged,
		Payload:   voice.StateChange{From: conversation.StateClosing, To: conversation.StateClosed},
		At:        ended,
	})

	session, err := svc.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if !session.EndedAt.Equal(ended) {
		t.Fatalf("unexpected end time: %v", session.EndedAt)
	}
}

func TestServiceOpensTranscriptWhenStreaming(t *testing.T) {
	svc := transcript.NewService()
	svc.SetMetadataLookup(func(id string) (conversation.Metadata, bool) {
		return conversation.Metadata{Topic: "decimals", StudentID: "stu-7"}, id == "s9"
	})

	svc.OnEvent(voice.Event{SessionID: "s9", Type: voice.EventStateChanged,
		Payload: voice.StateChange{From: conversation.StateInitializing, To: conversation.StateStreaming}})

	session, err := svc.GetSession(context.Background(), "s9")
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if session.Topic != "decimals" || session.StudentID != "stu-7" {
		t.Fatalf("unexpected session header: %+v", session)
	}
	if entries, err := svc.Load(context.Background(), "s9"); err != nil || len(entries) != 0 {
		t.Fatalf("expected empty transcript, got %v %v", entries, err)
	}
}

func TestServiceSkipsInterruptionMarker(t *testing.T) {
	svc := transcript.NewService()
	d := voice.NewDispatcher()
	d.Subscribe(svc)

	d.Dispatch("s1", voice.EventTextOutput, voice.TextOutput{ContentID: "a1", Role: "ASSISTANT", Content: "Let's try halves first."})
	d.Dispatch("s1", voice.EventTextOutput, voice.TextOutput{ContentID: "a2", Role: "ASSISTANT", Content: `{"interrupted":true}`})

	entries := svc.Recent("s1", 0)
	if len(entries) != 1 || entries[0].Content != "Let's try halves first." {
		t.Fatalf("interruption marker should not be recorded, got %+v", entries)
	}
}
