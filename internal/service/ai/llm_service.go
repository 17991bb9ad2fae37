// Package ai wraps the chat-model backend behind the narrow surface the agent
// loop consumes: generate or stream over model-native messages, with the
// current tool schemas attached.
package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/practiva/assistant-backend/internal/config"
)

// Service adapts the configured chat model.
type Service struct {
	chatModel model.ToolCallingChatModel
}

// NewService creates the model backend from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	return &Service{chatModel: chatModel}, nil
}

// Generate runs one model call. When toolInfos is non-empty the schemas are
// bound so the response may carry tool calls instead of text.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.Message, error) {
	m, err := s.withTools(toolInfos)
	if err != nil {
		return nil, err
	}
	return m.Generate(ctx, messages)
}

// Stream runs one model call and returns the chunk stream. The caller owns
// the reader and must Close it.
func (s *Service) Stream(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error) {
	m, err := s.withTools(toolInfos)
	if err != nil {
		return nil, err
	}
	return m.Stream(ctx, messages)
}

func (s *Service) withTools(toolInfos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(toolInfos) == 0 {
		return s.chatModel, nil
	}

	bound, err := s.chatModel.WithTools(toolInfos)
	if err != nil {
		return nil, fmt.Errorf("bind tool schemas: %w", err)
	}
	return bound, nil
}

// Unavailable is the backend used when no model credentials are configured.
// Every call fails, which the agent loop turns into its apology path.
type Unavailable struct{}

// Generate always fails.
func (Unavailable) Generate(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.Message, error) {
	return nil, fmt.Errorf("model backend not configured")
}

// Stream always fails.
func (Unavailable) Stream(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("model backend not configured")
}
