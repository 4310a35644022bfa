package supervisor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hearthkit/hearth/internal/config"
)

// debounceWindow coalesces editor write bursts into one config push.
const debounceWindow = 500 * time.Millisecond

// WatchChannelConfigs re-pushes channel.configure to a connected plugin
// whenever its config file under channels/ changes. Blocks until ctx is
// cancelled.
func (s *Supervisor) WatchChannelConfigs(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := config.ChannelsDir(s.stateDir)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("channel config watch unavailable", "dir", dir, "error", err)
		<-ctx.Done()
		return nil
	}
	slog.Info("watching channel configs", "dir", dir)

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			base := filepath.Base(event.Name)
			if !strings.HasSuffix(base, ".json") {
				continue
			}
			name := strings.TrimSuffix(base, ".json")
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounceWindow, func() {
				s.reloadChannelConfig(name)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (s *Supervisor) reloadChannelConfig(name string) {
	cfg, err := config.LoadChannelConfig(s.stateDir, name)
	if err != nil || cfg == nil {
		return
	}
	if !cfg.Enabled || len(cfg.Config) == 0 {
		return
	}
	slog.Info("channel config changed, re-pushing", "channel", name)
	if err := s.ConfigureChannel(name, cfg.Config); err != nil {
		slog.Warn("config re-push failed", "channel", name, "error", err)
	}
}
