package ai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/CipherHitro/AiMind/internal/config"
	"github.com/CipherHitro/AiMind/internal/model/chat"
)

// FallbackResponse stands in for the assistant turn when the completion
// service fails. The send itself still succeeds at the protocol level.
const FallbackResponse = "Sorry, I encountered an error while generating a response. Please try again."

// emptyHistoryResponse covers the degenerate case of a completion request
// with no usable turns after system-role filtering.
const emptyHistoryResponse = "Please send a message to start the conversation."

// Gateway calls an OpenAI-compatible chat completion endpoint.
type Gateway struct {
	client *openai.Client
	cfg    config.AIConfig
}

// NewGateway creates the completion client. A custom base URL points it at
// Groq or any other OpenAI-compatible provider.
func NewGateway(cfg config.AIConfig) *Gateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Gateway{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Complete generates a reply for the ordered conversation. System-role turns
// are excluded from the request. The wait is bounded by the configured
// timeout; callers treat any returned error as a soft failure.
func (g *Gateway) Complete(ctx context.Context, turns []chat.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		if t.Role == chat.RoleSystem {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}
	if len(messages) == 0 {
		return emptyHistoryResponse, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: float32(g.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "No response generated.", nil
	}
	return resp.Choices[0].Message.Content, nil
}
