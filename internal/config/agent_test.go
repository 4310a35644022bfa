package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAgentConfigFirstBoot(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadAgentConfig(dir)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4.1-mini" {
		t.Errorf("defaults = %+v", cfg)
	}

	// First boot writes the file for later hand-editing.
	if _, err := os.Stat(filepath.Join(dir, "agent", "config.json")); err != nil {
		t.Errorf("agent config not persisted: %v", err)
	}
}

func TestLoadAgentConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "agent"), 0o700); err != nil {
		t.Fatal(err)
	}
	raw := `{
		provider: "openai",
		model: "gpt-4o",
		base_url: "http://localhost:11434/v1", // local runner
		max_tokens: 512,
	}`
	if err := os.WriteFile(filepath.Join(dir, "agent", "config.json"), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAgentConfig(dir)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Model != "gpt-4o" || cfg.BaseURL != "http://localhost:11434/v1" || cfg.MaxTokens != 512 {
		t.Errorf("loaded = %+v", cfg)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	cfg := DefaultAgentConfig()

	t.Setenv("OPENAI_API_KEY", "generic")
	t.Setenv("HEARTH_OPENAI_API_KEY", "")
	if got := cfg.APIKey(); got != "generic" {
		t.Errorf("APIKey = %q", got)
	}

	t.Setenv("HEARTH_OPENAI_API_KEY", "specific")
	if got := cfg.APIKey(); got != "specific" {
		t.Errorf("APIKey with override = %q", got)
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()

	prompt, err := LoadSystemPrompt(dir)
	if err != nil {
		t.Fatalf("LoadSystemPrompt: %v", err)
	}
	if prompt == "" {
		t.Fatal("default prompt is empty")
	}

	custom := "Answer only in haiku.\n"
	if err := os.WriteFile(filepath.Join(dir, "agent", "system_prompt.md"), []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}
	prompt, err = LoadSystemPrompt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if prompt != "Answer only in haiku." {
		t.Errorf("prompt = %q", prompt)
	}
}
