package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State is the runtime state file the running hub updates at
// ~/.hearth/state.json. It is advisory: a corrupt file resets to zero.
type State struct {
	WSConnected   bool   `json:"ws_connected"`
	LastConnected string `json:"last_connected,omitempty"`
	GatewayURL    string `json:"gateway_url,omitempty"`
}

// LoadState reads the runtime state, returning a zero State on any error.
func LoadState(dir string) *State {
	var st State
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return &st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return &State{}
	}
	return &st
}

// SaveState persists the runtime state.
func SaveState(dir string, st *State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StateFile), data, 0o600)
}

// MarkConnected records a successful gateway connection.
func MarkConnected(dir, gatewayURL string) {
	st := LoadState(dir)
	st.WSConnected = true
	st.LastConnected = time.Now().UTC().Format(time.RFC3339Nano)
	st.GatewayURL = gatewayURL
	SaveState(dir, st)
}

// MarkDisconnected records a gateway disconnect.
func MarkDisconnected(dir string) {
	st := LoadState(dir)
	st.WSConnected = false
	SaveState(dir, st)
}
