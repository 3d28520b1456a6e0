package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/CipherHitro/AiMind/internal/config"
)

const titleSystemPrompt = "You are a helpful assistant that generates short, concise chat titles. " +
	"Generate a title that is 2-5 words long, captures the main topic of the user's message, " +
	"and is in title case. Only respond with the title, nothing else."

const maxTitleLength = 50

// TitleGenerator produces a short chat title from the first user message.
type TitleGenerator struct {
	client *openai.Client
	cfg    config.AIConfig
}

// NewTitleGenerator creates the title client against the same completion
// endpoint as the gateway.
func NewTitleGenerator(cfg config.AIConfig) *TitleGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &TitleGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate asks the model for a title. Callers fall back to FallbackTitle on
// any error.
func (t *TitleGenerator) Generate(ctx context.Context, firstMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Generate a short title (2-5 words) for a chat that starts with this message: %q", firstMessage),
			},
		},
		MaxTokens:   20,
		Temperature: float32(t.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate title: empty response")
	}

	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", fmt.Errorf("generate title: blank title")
	}
	return truncateTitle(title), nil
}

// FallbackTitle derives a deterministic title from the message: its first
// four whitespace-separated words, truncated to the 50-character cap.
func FallbackTitle(message string) string {
	words := strings.Fields(strings.TrimSpace(message))
	if len(words) > 4 {
		words = words[:4]
	}
	return truncateTitle(strings.Join(words, " "))
}

// truncateTitle caps the title at maxTitleLength characters, cutting on rune
// boundaries so multibyte text never ends in a mangled sequence.
func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}
