// Package config manages the ~/.hearth state directory: hub settings,
// per-channel plugin configs, agent settings, and runtime state files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/titanous/json5"
)

// Well-known filenames inside the state dir.
const (
	ConfigFile = "config.json"
	StateFile  = "state.json"
)

// GatewayConfig controls the relay server started by `hearth gateway`.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PairingConfig controls pairing-code and attestation lifetimes.
type PairingConfig struct {
	SessionTTLSeconds int `json:"session_ttl_seconds"`
	AttestationDays   int `json:"attestation_days"`
}

// Config is the persistent hub configuration at ~/.hearth/config.json.
// The file is parsed as JSON5 so hand-edited configs may carry comments.
type Config struct {
	DeviceID   string        `json:"device_id"`
	GatewayURL string        `json:"gateway_url"`
	PluginPort int           `json:"plugin_port"`
	Gateway    GatewayConfig `json:"gateway"`
	Pairing    PairingConfig `json:"pairing"`
}

// Default returns a Config with sensible defaults. The device id is
// freshly generated; Load persists it on first boot so it stays stable.
func Default() *Config {
	return &Config{
		DeviceID:   uuid.NewString(),
		GatewayURL: "ws://localhost:8765",
		PluginPort: 18081,
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Pairing: PairingConfig{
			SessionTTLSeconds: 300,
			AttestationDays:   30,
		},
	}
}

// DefaultDir returns the state directory, honoring HEARTH_DIR.
func DefaultDir() string {
	if dir := os.Getenv("HEARTH_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return filepath.Join(home, ".hearth")
}

// Load reads the hub config from dir, creating it with defaults on first
// boot so the generated device id persists.
func Load(dir string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dir, ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Save(dir, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the hub config to dir.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o600)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
