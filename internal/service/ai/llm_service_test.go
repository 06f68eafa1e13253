package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/voice-relay/backend/internal/model/chat"
)

type fakeChatModel struct {
	chunks []string
	input  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestReplyStreamsDeltas(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"The RV400 ", "is electric."}}
	svc, err := NewServiceWithModel(context.Background(), fake, true)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	history := []chat.Message{
		{Role: chat.RoleUser, Text: "hello"},
		{Role: chat.RoleAssistant, Text: "hi there"},
	}

	var deltas []string
	text, err := svc.Reply(context.Background(), "You are Rev.", history, "what is the RV400?", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if text != "The RV400 is electric." {
		t.Fatalf("unexpected text %q", text)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %v", deltas)
	}

	if len(fake.input) != 4 {
		t.Fatalf("expected system + 2 history + query, got %d messages", len(fake.input))
	}
	if fake.input[0].Role != schema.System || !strings.HasPrefix(fake.input[0].Content, "You are Rev.") {
		t.Fatalf("unexpected system message: %+v", fake.input[0])
	}
	if !strings.Contains(fake.input[0].Content, "converted to speech") {
		t.Fatal("system prompt misses the spoken reply rules")
	}
	if fake.input[2].Role != schema.Assistant || fake.input[3].Content != "what is the RV400?" {
		t.Fatalf("unexpected conversation: %+v", fake.input[1:])
	}
}

func TestReplyStopsWhenDeltaFails(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"a", "b", "c"}}
	svc, err := NewServiceWithModel(context.Background(), fake, true)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	stop := errors.New("interrupted")
	calls := 0
	_, err = svc.Reply(context.Background(), "", nil, "q", func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected delta error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single delta before stopping, got %d", calls)
	}
}

func TestReplyWithoutStreaming(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"one shot"}}
	svc, err := NewServiceWithModel(context.Background(), fake, false)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	var got string
	text, err := svc.Reply(context.Background(), "", nil, "q", func(d string) error {
		got += d
		return nil
	})
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if text != "one shot" || got != "one shot" {
		t.Fatalf("unexpected reply %q / %q", text, got)
	}
}

func TestBuildHistoryKeepsRecentMessages(t *testing.T) {
	var messages []chat.Message
	for i := 0; i < historyLimit+5; i++ {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Text: "m"})
	}
	if got := len(buildHistoryMessages(messages)); got != historyLimit {
		t.Fatalf("expected %d history messages, got %d", historyLimit, got)
	}
}
