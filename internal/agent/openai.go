package agent

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hearthkit/hearth/internal/config"
)

// OpenAIDriver talks to an OpenAI-compatible chat completion endpoint
// and keeps per-conversation history in memory.
type OpenAIDriver struct {
	client       *openai.Client
	model        string
	temperature  float32
	maxTokens    int
	systemPrompt string
	historyLimit int

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewOpenAIDriver builds a driver from the agent config. BaseURL lets
// the same driver serve local OpenAI-compatible servers.
func NewOpenAIDriver(cfg *config.AgentConfig, systemPrompt string) (*OpenAIDriver, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("agent requires HEARTH_OPENAI_API_KEY or OPENAI_API_KEY")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIDriver{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
		historyLimit: cfg.HistoryLimit,
		history:      make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

// Reply sends the conversation history plus the new user message and
// records both sides of the exchange.
func (d *OpenAIDriver) Reply(ctx context.Context, conversationID, body string) (string, error) {
	d.mu.Lock()
	prior := make([]openai.ChatCompletionMessage, len(d.history[conversationID]))
	copy(prior, d.history[conversationID])
	d.mu.Unlock()

	messages := make([]openai.ChatCompletionMessage, 0, len(prior)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: d.systemPrompt,
	})
	messages = append(messages, prior...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: body,
	})

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Messages:    messages,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	reply := resp.Choices[0].Message.Content

	d.mu.Lock()
	turns := append(d.history[conversationID],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: body},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	// Trim to the last historyLimit exchanges (user+assistant pairs).
	if d.historyLimit > 0 && len(turns) > d.historyLimit*2 {
		turns = turns[len(turns)-d.historyLimit*2:]
	}
	d.history[conversationID] = turns
	d.mu.Unlock()

	return reply, nil
}
