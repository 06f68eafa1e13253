package chat_test

import (
	"context"
	"errors"
	"testing"

	model "github.com/zhouzirui/voice-relay/backend/internal/model/chat"
	chat "github.com/zhouzirui/voice-relay/backend/internal/service/chat"
)

func TestServiceCreateSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "conn-1", "rev")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.ID != "conn-1" {
		t.Fatalf("unexpected session ID: got %s", session.ID)
	}
	if session.PersonaID != "rev" {
		t.Fatalf("unexpected persona ID: got %s", session.PersonaID)
	}
	if svc.Count() != 1 {
		t.Fatalf("expected 1 open transcript, got %d", svc.Count())
	}

	messages, err := svc.LoadTranscript(ctx, "conn-1")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(messages))
	}
}

func TestServiceLoadTranscriptNotFound(t *testing.T) {
	svc := chat.NewService()
	if _, err := svc.LoadTranscript(context.Background(), "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceTranscriptIsAppendOnly(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	if _, err := svc.CreateSession(ctx, "conn-1", "rev"); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	first, err := svc.SaveMessage(ctx, "conn-1", model.RoleUser, " what is the RV400? ")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if first.ID == "" || first.Text != "what is the RV400?" {
		t.Fatalf("unexpected message: %+v", first)
	}
	if _, err := svc.SaveMessage(ctx, "conn-1", model.RoleAssistant, "An electric motorcycle."); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	transcript, err := svc.LoadTranscript(ctx, "conn-1")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(transcript) != 2 || transcript[0].Role != model.RoleUser || transcript[1].Role != model.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}

	transcript[0].Text = "changed"
	again, _ := svc.LoadTranscript(ctx, "conn-1")
	if again[0].Text != "what is the RV400?" {
		t.Fatal("transcript copy aliases the stored messages")
	}
}

func TestServiceRejectsInvalidMessages(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	if _, err := svc.SaveMessage(ctx, "missing", model.RoleUser, "hi"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.CreateSession(ctx, " ", "rev"); !errors.Is(err, chat.ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
	svc.CreateSession(ctx, "conn-1", "rev")
	if _, err := svc.SaveMessage(ctx, "conn-1", model.RoleUser, "  "); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestServiceDiscardSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	svc.CreateSession(ctx, "conn-1", "rev")
	svc.DiscardSession(ctx, "conn-1")

	if svc.Count() != 0 {
		t.Fatalf("expected no sessions, got %d", svc.Count())
	}
	if _, err := svc.LoadTranscript(ctx, "conn-1"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
