package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthkit/hearth/internal/config"
	"github.com/hearthkit/hearth/pkg/channelsdk"
	"github.com/hearthkit/hearth/pkg/protocol"
)

// fakePlugin is a minimal channelsdk plugin that records what the hub
// pushes to it.
type fakePlugin struct {
	channelsdk.BasePlugin

	mu         sync.Mutex
	configured []map[string]any
	sent       []protocol.UnifiedMessage
	events     []string

	sendErr error
}

func (p *fakePlugin) Info() protocol.ChannelInfo {
	return protocol.ChannelInfo{Name: "fake", Version: "0.0.1", Description: "test plugin"}
}

func (p *fakePlugin) Configure(ctx context.Context, cfg map[string]any) error {
	p.mu.Lock()
	p.configured = append(p.configured, cfg)
	p.mu.Unlock()
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error { return nil }
func (p *fakePlugin) Stop(ctx context.Context) error  { return nil }

func (p *fakePlugin) Send(ctx context.Context, msg protocol.UnifiedMessage) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return p.sendErr
}

func (p *fakePlugin) HandleEvent(ctx context.Context, event string, data map[string]any) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startHub serves the plugin socket over httptest and connects the fake
// plugin to it through a real channelsdk transport.
func startHub(t *testing.T, stateDir string, plugin *fakePlugin) (*Supervisor, *channelsdk.Transport) {
	t.Helper()
	sup := New(stateDir, 0)
	srv := httptest.NewServer(sup.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport := channelsdk.NewTransport(plugin, wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(transport.Stop)
	go transport.Run(ctx)

	waitFor(t, "channel registration", func() bool {
		return len(sup.ConnectedChannels()) == 1
	})
	return sup, transport
}

func TestPluginRegistersAndReceivesConfig(t *testing.T) {
	stateDir := t.TempDir()
	cfg := &config.ChannelConfig{
		Name:    "fake",
		Enabled: true,
		Config:  map[string]any{"token": "secret"},
	}
	if err := config.SaveChannelConfig(stateDir, cfg); err != nil {
		t.Fatal(err)
	}

	plugin := &fakePlugin{}
	sup, _ := startHub(t, stateDir, plugin)

	infos := sup.ConnectedChannels()
	if infos[0].Name != "fake" || infos[0].Version != "0.0.1" {
		t.Errorf("registered info = %+v", infos[0])
	}

	// The stored config is pushed right after registration.
	waitFor(t, "config push", func() bool {
		plugin.mu.Lock()
		defer plugin.mu.Unlock()
		return len(plugin.configured) > 0
	})
	plugin.mu.Lock()
	defer plugin.mu.Unlock()
	if plugin.configured[0]["token"] != "secret" {
		t.Errorf("pushed config = %+v", plugin.configured[0])
	}
}

func TestSendToChannel(t *testing.T) {
	plugin := &fakePlugin{}
	sup, _ := startHub(t, t.TempDir(), plugin)

	msg := protocol.NewMessage("fake", protocol.DirectionOutbound)
	msg.RecipientID = "user-1"
	msg.Body = "outbound payload"
	if err := sup.SendToChannel(context.Background(), msg); err != nil {
		t.Fatalf("SendToChannel: %v", err)
	}

	waitFor(t, "plugin delivery", func() bool {
		plugin.mu.Lock()
		defer plugin.mu.Unlock()
		return len(plugin.sent) == 1
	})
	plugin.mu.Lock()
	defer plugin.mu.Unlock()
	if plugin.sent[0].Body != "outbound payload" || plugin.sent[0].RecipientID != "user-1" {
		t.Errorf("delivered = %+v", plugin.sent[0])
	}
}

func TestSendToUnknownChannel(t *testing.T) {
	sup, _ := startHub(t, t.TempDir(), &fakePlugin{})

	msg := protocol.NewMessage("missing", protocol.DirectionOutbound)
	if err := sup.SendToChannel(context.Background(), msg); err == nil {
		t.Error("send to unconnected channel succeeded")
	}
}

func TestInboundMessageReachesHandler(t *testing.T) {
	plugin := &fakePlugin{}

	received := make(chan protocol.UnifiedMessage, 1)
	sup := New(t.TempDir(), 0)
	sup.SetMessageHandler(func(params json.RawMessage) error {
		var msg protocol.UnifiedMessage
		if err := json.Unmarshal(params, &msg); err != nil {
			return err
		}
		received <- msg
		return nil
	})

	srv := httptest.NewServer(sup.Handler())
	t.Cleanup(srv.Close)
	transport := channelsdk.NewTransport(plugin, "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(transport.Stop)
	go transport.Run(ctx)
	waitFor(t, "registration", func() bool { return len(sup.ConnectedChannels()) == 1 })

	inbound := protocol.NewMessage("fake", protocol.DirectionInbound)
	inbound.SenderID = "user-1"
	inbound.Body = "hello hub"
	if err := plugin.Emit(ctx, inbound); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Body != "hello hub" || msg.SenderID != "user-1" {
			t.Errorf("received = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}

func TestEventsFlowBothWays(t *testing.T) {
	plugin := &fakePlugin{}

	events := make(chan string, 1)
	sup := New(t.TempDir(), 0)
	sup.SetEventHandler(func(channel, event string, data map[string]any) {
		events <- channel + "/" + event
	})

	srv := httptest.NewServer(sup.Handler())
	t.Cleanup(srv.Close)
	transport := channelsdk.NewTransport(plugin, "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(transport.Stop)
	go transport.Run(ctx)
	waitFor(t, "registration", func() bool { return len(sup.ConnectedChannels()) == 1 })

	// Plugin to hub.
	if err := plugin.EmitEvent(ctx, protocol.EventGatewayConnected, nil); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	select {
	case got := <-events:
		if got != "fake/"+protocol.EventGatewayConnected {
			t.Errorf("event = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("plugin event never reached the hub")
	}

	// Hub to plugin.
	if err := sup.SendEventToChannel("fake", protocol.EventPairingResponse, map[string]any{"status": "approved"}); err != nil {
		t.Fatalf("SendEventToChannel: %v", err)
	}
	waitFor(t, "plugin event delivery", func() bool {
		plugin.mu.Lock()
		defer plugin.mu.Unlock()
		return len(plugin.events) == 1 && plugin.events[0] == protocol.EventPairingResponse
	})
}

func TestProbeChannel(t *testing.T) {
	sup, _ := startHub(t, t.TempDir(), &fakePlugin{})

	status, err := sup.ProbeChannel(context.Background(), "fake")
	if err != nil {
		t.Fatalf("ProbeChannel: %v", err)
	}
	if status["name"] != "fake" || status["status"] != "running" {
		t.Errorf("status = %+v", status)
	}

	if _, err := sup.ProbeChannel(context.Background(), "missing"); err == nil {
		t.Error("probe of unconnected channel succeeded")
	}
}

func TestUnknownMethodGetsMethodNotFound(t *testing.T) {
	_, transport := startHub(t, t.TempDir(), &fakePlugin{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := transport.Request(ctx, "channel.bogus", nil)
	if err == nil {
		t.Fatal("unknown method succeeded")
	}
	var rpcErr *protocol.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeMethodNotFound {
		t.Errorf("error = %v", err)
	}
}

func TestDisconnectUnregistersChannel(t *testing.T) {
	plugin := &fakePlugin{}
	sup, transport := startHub(t, t.TempDir(), plugin)

	transport.Stop()
	waitFor(t, "channel unregistration", func() bool {
		return len(sup.ConnectedChannels()) == 0
	})
}
