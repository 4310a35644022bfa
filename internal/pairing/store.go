package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	sessionFile = "pairing_session.json"
	devicesFile = "devices.json"
)

// Store persists the pairing session and the approved-device list as JSON
// files inside the state dir. Files are written via temp-file rename so a
// crash mid-write never leaves a truncated registry.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) sessionPath() string { return filepath.Join(s.dir, sessionFile) }
func (s *Store) devicesPath() string { return filepath.Join(s.dir, devicesFile) }

func (s *Store) writeAtomic(path string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveSession persists the active pairing session.
func (s *Store) SaveSession(sess *Session) error {
	return s.writeAtomic(s.sessionPath(), sess)
}

// LoadSession returns the active session, or nil when there is none. An
// expired or unreadable session file is cleared and treated as absent.
func (s *Store) LoadSession() (*Session, error) {
	data, err := os.ReadFile(s.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pairing session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.ClearSession()
		return nil, nil
	}
	if !sess.Valid(time.Now().UTC()) {
		s.ClearSession()
		return nil, nil
	}
	return &sess, nil
}

// ClearSession removes the session file. Missing files are fine.
func (s *Store) ClearSession() error {
	err := os.Remove(s.sessionPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListDevices returns all approved devices. Unreadable entries are
// skipped, a missing file yields an empty list.
func (s *Store) ListDevices() ([]ApprovedDevice, error) {
	data, err := os.ReadFile(s.devicesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read devices: %w", err)
	}
	var devices []ApprovedDevice
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, nil
	}
	return devices, nil
}

// UpsertDevice inserts or replaces a device by id, keeping the registry
// sorted by device id.
func (s *Store) UpsertDevice(device ApprovedDevice) error {
	devices, err := s.ListDevices()
	if err != nil {
		return err
	}
	replaced := false
	for i, d := range devices {
		if d.DeviceID == device.DeviceID {
			devices[i] = device
			replaced = true
			break
		}
	}
	if !replaced {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return s.writeAtomic(s.devicesPath(), devices)
}

// RevokeDevice removes a device by id. It reports whether anything was
// removed.
func (s *Store) RevokeDevice(deviceID string) (bool, error) {
	devices, err := s.ListDevices()
	if err != nil {
		return false, err
	}
	remaining := devices[:0]
	for _, d := range devices {
		if d.DeviceID != deviceID {
			remaining = append(remaining, d)
		}
	}
	if len(remaining) == len(devices) {
		return false, nil
	}
	if err := s.writeAtomic(s.devicesPath(), remaining); err != nil {
		return false, err
	}
	return true, nil
}
