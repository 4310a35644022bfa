// Package supervisor runs the hub side of the plugin plane: a local
// WebSocket server that channel plugins dial into, subprocess lifecycle
// for enabled channels, and JSON-RPC dispatch in both directions.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthkit/hearth/internal/config"
	"github.com/hearthkit/hearth/pkg/protocol"
)

const (
	// How long ProbeChannel waits for a channel.status response.
	probeTimeout = 5 * time.Second

	// Grace period between channel.stop and subprocess termination.
	stopGrace = time.Second

	writeTimeout = 10 * time.Second
)

// MessageHandler consumes channel.receive params from a plugin.
type MessageHandler func(params json.RawMessage) error

// EventHandler consumes channel.event notifications from a plugin.
type EventHandler func(channel, event string, data map[string]any)

// connectedChannel is one registered plugin connection.
type connectedChannel struct {
	info    protocol.ChannelInfo
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Envelope
}

func (c *connectedChannel) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Supervisor owns the plugin socket and the channel subprocesses.
type Supervisor struct {
	stateDir string
	host     string
	port     int

	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*connectedChannel
	procs    []*exec.Cmd

	onMessage MessageHandler
	onEvent   EventHandler

	httpServer *http.Server
}

// New creates a supervisor serving the plugin socket on 127.0.0.1:port.
func New(stateDir string, port int) *Supervisor {
	return &Supervisor{
		stateDir: stateDir,
		host:     "127.0.0.1",
		port:     port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		channels: make(map[string]*connectedChannel),
	}
}

// SetMessageHandler wires the channel.receive sink.
func (s *Supervisor) SetMessageHandler(h MessageHandler) { s.onMessage = h }

// SetEventHandler wires the channel.event sink.
func (s *Supervisor) SetEventHandler(h EventHandler) { s.onEvent = h }

// URL returns the plugin socket URL passed to spawned plugins.
func (s *Supervisor) URL() string {
	return fmt.Sprintf("ws://%s:%d", s.host, s.port)
}

// Handler returns the HTTP handler serving the plugin socket.
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePlugin)
	return mux
}

// Run serves the plugin socket, spawns enabled channels, and on ctx
// cancellation shuts everything down.
func (s *Supervisor) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	slog.Info("plugin server listening", "addr", "ws://"+addr)

	go func() {
		// Give the listener a beat to come up before plugins dial in.
		time.Sleep(100 * time.Millisecond)
		s.spawnChannels()
	}()

	go func() {
		<-ctx.Done()
		s.shutdownChannels()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("plugin server: %w", err)
	}
	return nil
}

// spawnChannels starts a subprocess for every enabled channel config.
func (s *Supervisor) spawnChannels() {
	channels, err := config.ListEnabledChannels(s.stateDir)
	if err != nil {
		slog.Error("failed to list channel configs", "error", err)
		return
	}
	if len(channels) == 0 {
		slog.Info("no enabled channel plugins configured")
		return
	}
	for _, ch := range channels {
		s.spawnOne(ch)
	}
}

func (s *Supervisor) spawnOne(ch config.ChannelConfig) {
	argv := append(ch.EffectiveCommand(), "--hub-ws", s.URL())
	slog.Info("spawning channel plugin", "channel", ch.Name, "command", argv)

	cmd := exec.Command(argv[0], argv[1:]...)
	if ch.WorkspaceDir != "" {
		cmd.Dir = config.ExpandHome(ch.WorkspaceDir)
	}
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		slog.Error("failed to spawn channel", "channel", ch.Name, "error", err)
		return
	}

	s.mu.Lock()
	s.procs = append(s.procs, cmd)
	s.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("channel process exited", "channel", ch.Name, "error", err)
		}
	}()
}

// shutdownChannels asks plugins to stop, waits a beat, then terminates
// whatever is still alive.
func (s *Supervisor) shutdownChannels() {
	stop, err := protocol.NewNotification(protocol.MethodChannelStop, nil)
	if err == nil {
		s.mu.Lock()
		conns := make([]*connectedChannel, 0, len(s.channels))
		for _, ch := range s.channels {
			conns = append(conns, ch)
		}
		s.mu.Unlock()
		for _, ch := range conns {
			ch.write(stop)
		}
	}

	time.Sleep(stopGrace)

	s.mu.Lock()
	procs := s.procs
	s.procs = nil
	s.mu.Unlock()
	for _, cmd := range procs {
		if cmd.Process != nil && (cmd.ProcessState == nil || !cmd.ProcessState.Exited()) {
			terminate(cmd)
		}
	}
}

// handlePlugin serves one plugin connection. The first meaningful frame
// must be channel.register; everything before it is dispatched with an
// unknown channel name.
func (s *Supervisor) handlePlugin(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("plugin upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var registered *connectedChannel
	defer func() {
		if registered != nil {
			s.mu.Lock()
			if s.channels[registered.info.Name] == registered {
				delete(s.channels, registered.info.Name)
			}
			s.mu.Unlock()
			slog.Info("channel disconnected", "channel", registered.info.Name)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			slog.Warn("invalid frame from plugin", "error", err)
			continue
		}

		if !env.IsCall() {
			if registered != nil {
				registered.resolve(env)
			}
			continue
		}

		switch env.Method {
		case protocol.MethodChannelRegister:
			var info protocol.ChannelInfo
			if err := json.Unmarshal(env.Params, &info); err != nil || info.Name == "" {
				slog.Warn("malformed channel.register", "error", err)
				continue
			}
			registered = &connectedChannel{
				info:    info,
				conn:    conn,
				pending: make(map[string]chan *protocol.Envelope),
			}
			s.mu.Lock()
			s.channels[info.Name] = registered
			s.mu.Unlock()
			slog.Info("channel registered", "channel", info.Name, "version", info.Version)
			s.pushConfig(info.Name)

		case protocol.MethodChannelReceive:
			if s.onMessage == nil {
				continue
			}
			if err := s.onMessage(env.Params); err != nil {
				name := "?"
				if registered != nil {
					name = registered.info.Name
				}
				slog.Warn("inbound message rejected", "channel", name, "error", err)
			}

		case protocol.MethodChannelEvent:
			var params struct {
				Event string         `json:"event"`
				Data  map[string]any `json:"data"`
			}
			if err := json.Unmarshal(env.Params, &params); err != nil {
				slog.Warn("malformed channel.event", "error", err)
				continue
			}
			name := "?"
			if registered != nil {
				name = registered.info.Name
			}
			slog.Info("channel event", "channel", name, "event", params.Event)
			if s.onEvent != nil {
				s.onEvent(name, params.Event, params.Data)
			}

		default:
			name := "?"
			if registered != nil {
				name = registered.info.Name
			}
			slog.Warn("unknown method from channel", "channel", name, "method", env.Method)
			if env.ID != nil {
				reply, err := protocol.NewError(env.ID, protocol.CodeMethodNotFound,
					fmt.Sprintf("Method not found: %s", env.Method))
				if err == nil {
					if registered != nil {
						registered.write(reply)
					} else {
						conn.WriteMessage(websocket.TextMessage, reply)
					}
				}
			}
		}
	}
}

func (c *connectedChannel) resolve(env *protocol.Envelope) {
	key := protocol.IDKey(env.ID)
	c.pendingMu.Lock()
	ch := c.pending[key]
	delete(c.pending, key)
	c.pendingMu.Unlock()
	if ch != nil {
		ch <- env
	}
}

// pushConfig sends the stored channel config right after registration.
func (s *Supervisor) pushConfig(name string) {
	cfg, err := config.LoadChannelConfig(s.stateDir, name)
	if err != nil || cfg == nil || len(cfg.Config) == 0 {
		return
	}
	if err := s.ConfigureChannel(name, cfg.Config); err != nil {
		slog.Warn("config push failed", "channel", name, "error", err)
	}
}

func (s *Supervisor) channel(name string) *connectedChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[name]
}

// SendToChannel delivers an outbound message to a plugin as channel.send.
func (s *Supervisor) SendToChannel(ctx context.Context, msg protocol.UnifiedMessage) error {
	ch := s.channel(msg.Channel)
	if ch == nil {
		return fmt.Errorf("channel %q not connected", msg.Channel)
	}
	data, err := protocol.NewNotification(protocol.MethodChannelSend, msg)
	if err != nil {
		return err
	}
	return ch.write(data)
}

// Broadcast sends a message to every connected plugin.
func (s *Supervisor) Broadcast(msg protocol.UnifiedMessage) {
	data, err := protocol.NewNotification(protocol.MethodChannelSend, msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	conns := make([]*connectedChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		conns = append(conns, ch)
	}
	s.mu.Unlock()
	for _, ch := range conns {
		if err := ch.write(data); err != nil {
			slog.Warn("broadcast send failed", "channel", ch.info.Name, "error", err)
		}
	}
}

// ConfigureChannel pushes settings to a plugin as channel.configure.
func (s *Supervisor) ConfigureChannel(name string, cfg map[string]any) error {
	ch := s.channel(name)
	if ch == nil {
		return fmt.Errorf("channel %q not connected", name)
	}
	data, err := protocol.NewNotification(protocol.MethodChannelConfigure, map[string]any{"config": cfg})
	if err != nil {
		return err
	}
	return ch.write(data)
}

// SendEventToChannel pushes a hub event to a plugin as channel.event.
func (s *Supervisor) SendEventToChannel(name, event string, data map[string]any) error {
	ch := s.channel(name)
	if ch == nil {
		return fmt.Errorf("channel %q not connected", name)
	}
	frame, err := protocol.NewNotification(protocol.MethodChannelEvent, map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return err
	}
	return ch.write(frame)
}

// ProbeChannel sends channel.status and waits for the response.
func (s *Supervisor) ProbeChannel(ctx context.Context, name string) (map[string]any, error) {
	ch := s.channel(name)
	if ch == nil {
		return nil, fmt.Errorf("channel %q not connected", name)
	}

	data, id, err := protocol.NewRequest(protocol.MethodChannelStatus, nil)
	if err != nil {
		return nil, err
	}

	resolved := make(chan *protocol.Envelope, 1)
	ch.pendingMu.Lock()
	ch.pending[id] = resolved
	ch.pendingMu.Unlock()
	defer func() {
		ch.pendingMu.Lock()
		delete(ch.pending, id)
		ch.pendingMu.Unlock()
	}()

	if err := ch.write(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(probeTimeout)
	defer timer.Stop()
	select {
	case env := <-resolved:
		if env.Error != nil {
			return nil, env.Error
		}
		var status map[string]any
		if err := json.Unmarshal(env.Result, &status); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return status, nil
	case <-timer.C:
		return nil, fmt.Errorf("channel %q status probe timed out", name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnectedChannels lists registered channel infos.
func (s *Supervisor) ConnectedChannels() []protocol.ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]protocol.ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		infos = append(infos, ch.info)
	}
	return infos
}
