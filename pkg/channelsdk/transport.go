package channelsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// ReconnectDelay is the pause between attempts to reach the hub.
const ReconnectDelay = 5 * time.Second

// Transport manages the JSON-RPC connection between a plugin and the
// hub's plugin socket: it registers the channel, dispatches hub calls to
// the plugin, and forwards plugin emissions back as notifications.
type Transport struct {
	plugin Plugin
	url    string

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Envelope

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTransport creates a transport for plugin against the hub socket URL.
func NewTransport(plugin Plugin, hubWSURL string) *Transport {
	t := &Transport{
		plugin:  plugin,
		url:     hubWSURL,
		pending: make(map[string]chan *protocol.Envelope),
		stop:    make(chan struct{}),
	}
	if base, ok := plugin.(interface{ AttachEmitter(Emitter) }); ok {
		base.AttachEmitter(t)
	}
	return t
}

// Run connects to the hub and serves the plugin until Stop is called or
// ctx is cancelled. Lost connections are retried every ReconnectDelay.
func (t *Transport) Run(ctx context.Context) error {
	name := t.plugin.Info().Name
	for {
		select {
		case <-t.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := t.connectAndServe(ctx); err != nil {
			slog.Warn("hub connection lost", "channel", name, "error", err)
		}

		select {
		case <-t.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ReconnectDelay):
		}
	}
}

// Stop disconnects and stops reconnecting.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close(websocket.StatusNormalClosure, "plugin stopping")
	}
	t.mu.Unlock()
}

func (t *Transport) connectAndServe(ctx context.Context) error {
	info := t.plugin.Info()
	slog.Info("connecting to hub", "url", t.url, "channel", info.Name)

	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	register, err := protocol.NewNotification(protocol.MethodChannelRegister, info)
	if err != nil {
		return err
	}
	if err := t.write(ctx, register); err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	slog.Info("channel registered", "channel", info.Name)

	if err := t.plugin.Start(ctx); err != nil {
		return fmt.Errorf("start plugin: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		t.plugin.Stop(stopCtx)
	}()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		t.handleFrame(ctx, raw)
	}
}

func (t *Transport) handleFrame(ctx context.Context, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		slog.Warn("invalid frame from hub", "error", err)
		return
	}

	if !env.IsCall() {
		t.pendingMu.Lock()
		ch := t.pending[protocol.IDKey(env.ID)]
		delete(t.pending, protocol.IDKey(env.ID))
		t.pendingMu.Unlock()
		if ch != nil {
			ch <- env
		}
		return
	}

	result, rpcErr := t.dispatch(ctx, env)
	if env.ID == nil {
		return
	}

	var reply []byte
	if rpcErr != nil {
		reply, err = protocol.NewError(env.ID, rpcErr.Code, rpcErr.Message)
	} else {
		reply, err = protocol.NewResult(env.ID, result)
	}
	if err != nil {
		slog.Error("marshal rpc reply failed", "error", err)
		return
	}
	if err := t.write(ctx, reply); err != nil {
		slog.Warn("rpc reply send failed", "error", err)
	}
}

func (t *Transport) dispatch(ctx context.Context, env *protocol.Envelope) (any, *protocol.RPCError) {
	info := t.plugin.Info()

	switch env.Method {
	case protocol.MethodChannelSend:
		var msg protocol.UnifiedMessage
		if err := json.Unmarshal(env.Params, &msg); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		if err := t.plugin.Send(ctx, msg); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		return map[string]any{"ok": true}, nil

	case protocol.MethodChannelConfigure:
		var params struct {
			Config map[string]any `json:"config"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		if err := t.plugin.Configure(ctx, params.Config); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		return map[string]any{"ok": true}, nil

	case protocol.MethodChannelEvent:
		var params struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		if err := t.plugin.HandleEvent(ctx, params.Event, params.Data); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		return map[string]any{"ok": true}, nil

	case protocol.MethodChannelStop:
		t.stopOnce.Do(func() { close(t.stop) })
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close(websocket.StatusNormalClosure, "stopped by hub")
		}
		t.mu.Unlock()
		return map[string]any{"ok": true}, nil

	case protocol.MethodChannelStatus:
		return map[string]any{
			"name":    info.Name,
			"version": info.Version,
			"status":  "running",
		}, nil

	default:
		return nil, &protocol.RPCError{
			Code:    protocol.CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", env.Method),
		}
	}
}

func (t *Transport) write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to hub")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// EmitMessage forwards an inbound message to the hub as channel.receive.
func (t *Transport) EmitMessage(ctx context.Context, msg protocol.UnifiedMessage) error {
	data, err := protocol.NewNotification(protocol.MethodChannelReceive, msg)
	if err != nil {
		return err
	}
	return t.write(ctx, data)
}

// EmitEvent forwards a plugin event to the hub as channel.event.
func (t *Transport) EmitEvent(ctx context.Context, event string, data map[string]any) error {
	frame, err := protocol.NewNotification(protocol.MethodChannelEvent, map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}

// Request sends a JSON-RPC request to the hub and waits for its response.
func (t *Transport) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, id, err := protocol.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Envelope, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(ctx, data); err != nil {
		return nil, err
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
