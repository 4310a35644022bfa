package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadCreatesDefaultsOnFirstBoot(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if first.DeviceID == "" {
		t.Fatal("first boot did not assign a device id")
	}
	if first.PluginPort != 18081 {
		t.Errorf("plugin port = %d", first.PluginPort)
	}
	if first.Gateway.Port != 8765 || first.Gateway.Host != "0.0.0.0" {
		t.Errorf("gateway defaults = %+v", first.Gateway)
	}

	// The generated device id must survive a reload.
	second, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if second.DeviceID != first.DeviceID {
		t.Errorf("device id changed across loads: %q vs %q", first.DeviceID, second.DeviceID)
	}
}

func TestLoadAcceptsJSON5(t *testing.T) {
	dir := t.TempDir()
	raw := `{
		// hand-edited config
		device_id: "my-desktop",
		plugin_port: 19000,
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceID != "my-desktop" {
		t.Errorf("device id = %q", cfg.DeviceID)
	}
	if cfg.PluginPort != 19000 {
		t.Errorf("plugin port = %d", cfg.PluginPort)
	}
	// Unset fields keep their defaults.
	if cfg.Pairing.SessionTTLSeconds != 300 {
		t.Errorf("pairing ttl = %d", cfg.Pairing.SessionTTLSeconds)
	}
}

func TestDefaultDirHonorsEnv(t *testing.T) {
	t.Setenv("HEARTH_DIR", "/tmp/hearth-test")
	if got := DefaultDir(); got != "/tmp/hearth-test" {
		t.Errorf("DefaultDir = %q", got)
	}
}

func TestEffectiveCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChannelConfig
		want []string
	}{
		{"explicit command", ChannelConfig{Name: "telegram", Command: []string{"python3", "bot.py"}}, []string{"python3", "bot.py"}},
		{"builtin fallback", ChannelConfig{Name: "devices"}, []string{"hearth", "channel", "devices"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.EffectiveCommand(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EffectiveCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChannelConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &ChannelConfig{
		Name:    "devices",
		Enabled: true,
		Config:  map[string]any{"gateway_url": "ws://localhost:8765"},
	}
	if err := SaveChannelConfig(dir, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadChannelConfig(dir, "devices")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.Name != "devices" || !loaded.Enabled {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Config["gateway_url"] != "ws://localhost:8765" {
		t.Errorf("config = %+v", loaded.Config)
	}

	if missing, err := LoadChannelConfig(dir, "nope"); err != nil || missing != nil {
		t.Errorf("missing config: %+v, %v", missing, err)
	}

	existed, err := DeleteChannelConfig(dir, "devices")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if existed, _ := DeleteChannelConfig(dir, "devices"); existed {
		t.Error("second delete reported existence")
	}
}

func TestListEnabledChannels(t *testing.T) {
	dir := t.TempDir()
	for _, c := range []ChannelConfig{
		{Name: "zulu", Enabled: true},
		{Name: "alpha", Enabled: true},
		{Name: "disabled", Enabled: false},
	} {
		cfg := c
		if err := SaveChannelConfig(dir, &cfg); err != nil {
			t.Fatal(err)
		}
	}
	// A broken file must not break listing.
	if err := os.WriteFile(filepath.Join(ChannelsDir(dir), "broken.json"), []byte("{{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	enabled, err := ListEnabledChannels(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 2 {
		t.Fatalf("enabled = %+v", enabled)
	}
	if enabled[0].Name != "alpha" || enabled[1].Name != "zulu" {
		t.Errorf("channels not sorted by name: %+v", enabled)
	}
}

func TestStateTransitions(t *testing.T) {
	dir := t.TempDir()

	if st := LoadState(dir); st.WSConnected {
		t.Error("fresh state reports connected")
	}

	MarkConnected(dir, "ws://localhost:8765")
	st := LoadState(dir)
	if !st.WSConnected || st.GatewayURL != "ws://localhost:8765" || st.LastConnected == "" {
		t.Fatalf("after connect: %+v", st)
	}

	MarkDisconnected(dir)
	st = LoadState(dir)
	if st.WSConnected {
		t.Error("still connected after disconnect")
	}
	if st.LastConnected == "" {
		t.Error("disconnect must keep the last-connected timestamp")
	}
}

func TestCorruptStateResets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFile), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if st := LoadState(dir); st.WSConnected {
		t.Error("corrupt state file parsed as connected")
	}
}
