package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

const (
	agentSubdir      = "agent"
	agentConfigFile  = "config.json"
	systemPromptFile = "system_prompt.md"
)

const defaultSystemPrompt = `You are a helpful home assistant running on Hearth.
Answer questions concisely and helpfully.
`

// AgentConfig holds LLM provider and generation settings at
// ~/.hearth/agent/config.json. The API key is never persisted; it comes
// from HEARTH_OPENAI_API_KEY (or OPENAI_API_KEY).
type AgentConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	// HistoryLimit caps remembered turns per conversation; 0 = unlimited.
	HistoryLimit int `json:"history_limit,omitempty"`
}

// DefaultAgentConfig returns the stock agent settings.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Provider:    "openai",
		Model:       "gpt-4.1-mini",
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// APIKey resolves the provider API key from the environment.
func (c *AgentConfig) APIKey() string {
	if v := os.Getenv("HEARTH_OPENAI_API_KEY"); v != "" {
		return v
	}
	return os.Getenv("OPENAI_API_KEY")
}

func agentDir(dir string) string { return filepath.Join(dir, agentSubdir) }

// LoadAgentConfig reads the agent config, writing defaults on first boot.
func LoadAgentConfig(dir string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	path := filepath.Join(agentDir(dir), agentConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := SaveAgentConfig(dir, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse agent config: %w", err)
	}
	return cfg, nil
}

// SaveAgentConfig persists the agent config.
func SaveAgentConfig(dir string, cfg *AgentConfig) error {
	if err := os.MkdirAll(agentDir(dir), 0o700); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(agentDir(dir), agentConfigFile), data, 0o600)
}

// LoadSystemPrompt reads the agent system prompt, writing the default on
// first boot.
func LoadSystemPrompt(dir string) (string, error) {
	path := filepath.Join(agentDir(dir), systemPromptFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	if err := os.MkdirAll(agentDir(dir), 0o700); err != nil {
		return "", fmt.Errorf("create agent dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultSystemPrompt), 0o600); err != nil {
		return "", fmt.Errorf("write system prompt: %w", err)
	}
	return strings.TrimSpace(defaultSystemPrompt), nil
}
