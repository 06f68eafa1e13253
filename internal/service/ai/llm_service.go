package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/model/chat"
)

const historyLimit = 10

// Service runs the reply chain of the cascade upstream: system preamble,
// recent transcript and the transcribed utterance, fed to the chat model.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	stream bool
}

// NewService creates the ark chat model from cfg and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.StreamResponse)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, stream bool) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable, stream: stream}, nil
}

// Reply produces the assistant answer for query, calling onDelta with each
// text fragment as it arrives. It returns the full text.
func (s *Service) Reply(ctx context.Context, instructions string, history []chat.Message, query string, onDelta func(string) error) (string, error) {
	input := map[string]any{
		"system":  BuildSystemPrompt(instructions),
		"history": buildHistoryMessages(history),
		"query":   query,
	}

	if !s.stream {
		resp, err := s.chain.Invoke(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to run AI chain: %w", err)
		}
		if onDelta != nil && resp.Content != "" {
			if err := onDelta(resp.Content); err != nil {
				return "", err
			}
		}
		return resp.Content, nil
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("ai stream recv failed: %w", recvErr)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}

	text := builder.String()
	log.Printf("[ai] reply generated, length=%d", len(text))
	return text, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
