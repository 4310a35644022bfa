package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// channelsSubdir holds one JSON file per configured channel plugin.
const channelsSubdir = "channels"

// ChannelConfig is the persisted configuration for one channel plugin at
// ~/.hearth/channels/<name>.json.
type ChannelConfig struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// Command used to start the plugin process. The supervisor appends
	// ["--hub-ws", <url>]. Empty means the built-in runner
	// ["hearth", "channel", <name>].
	Command []string `json:"command"`
	// Channel-specific settings pushed to the plugin via channel.configure
	// right after it registers.
	Config map[string]any `json:"config"`
	// If set, the command runs from this directory.
	WorkspaceDir string `json:"workspace_dir"`
}

// EffectiveCommand returns the argv used to spawn the plugin.
func (c *ChannelConfig) EffectiveCommand() []string {
	if len(c.Command) > 0 {
		return c.Command
	}
	return []string{"hearth", "channel", c.Name}
}

// ChannelsDir returns the channel-config directory under dir.
func ChannelsDir(dir string) string {
	return filepath.Join(dir, channelsSubdir)
}

func channelConfigPath(dir, name string) string {
	return filepath.Join(ChannelsDir(dir), name+".json")
}

// LoadChannelConfig reads one channel's config. Missing files return nil
// without error.
func LoadChannelConfig(dir, name string) (*ChannelConfig, error) {
	data, err := os.ReadFile(channelConfigPath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read channel config %q: %w", name, err)
	}
	var cfg ChannelConfig
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse channel config %q: %w", name, err)
	}
	return &cfg, nil
}

// SaveChannelConfig persists one channel's config.
func SaveChannelConfig(dir string, cfg *ChannelConfig) error {
	if err := os.MkdirAll(ChannelsDir(dir), 0o700); err != nil {
		return fmt.Errorf("create channels dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(channelConfigPath(dir, cfg.Name), data, 0o600)
}

// DeleteChannelConfig removes a channel config and reports whether one
// existed.
func DeleteChannelConfig(dir, name string) (bool, error) {
	err := os.Remove(channelConfigPath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListChannelConfigs loads every channel config under dir, sorted by
// name. Unparsable files are skipped.
func ListChannelConfigs(dir string) ([]ChannelConfig, error) {
	entries, err := os.ReadDir(ChannelsDir(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read channels dir: %w", err)
	}

	var configs []ChannelConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		cfg, err := LoadChannelConfig(dir, name)
		if err != nil || cfg == nil {
			continue
		}
		configs = append(configs, *cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// ListEnabledChannels returns only the enabled channel configs.
func ListEnabledChannels(dir string) ([]ChannelConfig, error) {
	all, err := ListChannelConfigs(dir)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, c := range all {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled, nil
}
