package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthkit/hearth/pkg/protocol"
)

const (
	// The handshake must complete inside this window.
	authTimeout = 30 * time.Second

	// How long a pairing caller may wait for the desktop's verdict.
	pairingTimeout = 120 * time.Second

	writeTimeout = 10 * time.Second
)

// peer is one authenticated connection. Writes go through a mutex because
// gorilla/websocket allows only one concurrent writer per connection.
type peer struct {
	id   string
	role string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) writeJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(v)
}

func (p *peer) writeRaw(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame with the given code, then closes the socket.
func (p *peer) closeWith(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	closeConn(p.conn, code, reason)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	conn.Close()
}

// Server is the WebSocket relay. Every connection passes the handshake
// state machine before it may relay frames; unauthenticated callers may
// only open a pairing bridge.
type Server struct {
	host string
	port int
	auth *AuthStore

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	peers   map[string]*peer // device id → connection
	desktop *peer            // at most one connection holds the desktop role

	pairMu  sync.Mutex
	pending map[string]chan protocol.PairingResponseFrame // request id → bridge

	httpServer *http.Server
}

// NewServer creates a relay server backed by the given auth store.
func NewServer(host string, port int, auth *AuthStore) *Server {
	return &Server{
		host: host,
		port: port,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The relay serves devices and the desktop, never browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:   make(map[string]*peer),
		pending: make(map[string]chan protocol.PairingResponseFrame),
	}
}

// Handler returns the HTTP handler serving the relay. Exposed so tests can
// mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	slog.Info("gateway starting", "addr", addr, "claimed", s.auth.IsClaimed())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","claimed":%t}`, s.auth.IsClaimed())
}

// ConnectedDevices returns the ids of all registered connections.
func (s *Server) ConnectedDevices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// handshakeFrame covers every first frame a connection may send: an
// auth_response in one of the three modes, or a pairing_request.
type handshakeFrame struct {
	Type             string `json:"type"`
	AuthMode         string `json:"auth_mode"`
	DeviceID         string `json:"device_id"`
	PublicKey        string `json:"public_key"`
	NonceSignature   string `json:"nonce_signature"`
	AttestationBlob  string `json:"attestation_blob"`
	DesktopSignature string `json:"desktop_signature"`
	PairingCode      string `json:"pairing_code"`
	DevicePublicKey  string `json:"device_public_key"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	nonce, err := generateNonce()
	if err != nil {
		slog.Error("nonce generation failed", "error", err)
		conn.Close()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(protocol.AuthChallenge{Type: protocol.FrameAuthChallenge, Nonce: nonce}); err != nil {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		closeConn(conn, protocol.CloseAuthFailure, "auth timeout")
		return
	}

	var first handshakeFrame
	if err := json.Unmarshal(raw, &first); err != nil {
		closeConn(conn, protocol.CloseAuthFailure, "first frame is not JSON")
		return
	}

	switch first.Type {
	case protocol.FramePairingRequest:
		s.runPairingBridge(conn, first)
	case protocol.FrameAuthResponse:
		s.finishAuth(conn, nonce, first)
	default:
		closeConn(conn, protocol.CloseAuthFailure, "expected auth_response or pairing_request")
	}
}

// finishAuth verifies the auth_response per auth_mode and, on success,
// registers the peer and runs its relay loop until disconnect.
func (s *Server) finishAuth(conn *websocket.Conn, nonce string, frame handshakeFrame) {
	var result AuthResult
	role := protocol.RoleDevice

	switch frame.AuthMode {
	case protocol.AuthModeDesktopClaim:
		result = s.auth.VerifyDesktopClaim(nonce, frame.PublicKey, frame.NonceSignature)
		result.DeviceID = frame.DeviceID
		role = protocol.RoleDesktop
	case protocol.AuthModeDesktop:
		result = s.auth.VerifyDesktopAuth(nonce, frame.NonceSignature)
		result.DeviceID = frame.DeviceID
		role = protocol.RoleDesktop
	case protocol.AuthModeDevice:
		result = s.auth.VerifyDeviceAuth(nonce, frame.AttestationBlob, frame.DesktopSignature, frame.NonceSignature)
	default:
		result = authFail("unknown auth_mode")
	}

	if !result.OK {
		slog.Warn("auth rejected", "mode", frame.AuthMode, "reason", result.Reason)
		closeConn(conn, protocol.CloseAuthFailure, result.Reason)
		return
	}
	if result.DeviceID == "" {
		closeConn(conn, protocol.CloseMissingDeviceID, "missing device_id")
		return
	}

	// Handshake done; from here on reads block until the peer sends.
	conn.SetReadDeadline(time.Time{})

	p := &peer{id: result.DeviceID, role: role, conn: conn}
	s.register(p)
	defer s.unregister(p)

	if err := p.writeJSON(protocol.AuthOK{Type: protocol.FrameAuthOK, DeviceID: p.id}); err != nil {
		return
	}
	slog.Info("peer authenticated", "device_id", p.id, "role", p.role)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(p, raw)
	}
}

// register inserts the peer into the registry, displacing any prior
// connection for the same device id with close code 4000.
func (s *Server) register(p *peer) {
	s.mu.Lock()
	old := s.peers[p.id]
	s.peers[p.id] = p
	if p.role == protocol.RoleDesktop {
		s.desktop = p
	}
	total := len(s.peers)
	s.mu.Unlock()

	if old != nil {
		slog.Warn("device reconnected, replacing old connection", "device_id", p.id)
		old.closeWith(protocol.CloseReplaced, "replaced by new connection")
	}
	slog.Info("device registered", "device_id", p.id, "total", total)
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	if s.desktop == p {
		s.desktop = nil
	}
	total := len(s.peers)
	s.mu.Unlock()

	p.conn.Close()
	slog.Info("device unregistered", "device_id", p.id, "total", total)
}

func (s *Server) desktopPeer() *peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desktop
}

// handleFrame relays one frame from an authenticated peer. The frame is
// decoded as an open JSON object so application fields pass through
// untouched; the relay only stamps sender_device_id and reads
// target_device_id.
func (s *Server) handleFrame(p *peer, raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("non-JSON frame dropped", "device_id", p.id)
		return
	}

	// The desktop resolves pairing requests in-band on its relay socket.
	if p.role == protocol.RoleDesktop {
		if t, _ := msg["type"].(string); t == protocol.FramePairingResponse {
			s.resolvePairing(raw)
			return
		}
	}

	msg["sender_device_id"] = p.id
	out, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("frame re-marshal failed", "device_id", p.id, "error", err)
		return
	}

	var recipients []*peer
	if rawTarget, present := msg["target_device_id"]; present && rawTarget != nil {
		target, ok := rawTarget.(string)
		if !ok {
			slog.Warn("target_device_id is not a string, frame dropped", "sender", p.id)
			return
		}
		if target != "" {
			s.mu.RLock()
			targetPeer := s.peers[target]
			s.mu.RUnlock()
			if targetPeer == nil {
				slog.Warn("target device not connected, frame dropped", "target", target, "sender", p.id)
				return
			}
			recipients = []*peer{targetPeer}
		}
	}
	if recipients == nil {
		// Broadcast to every other registered connection. The recipient
		// list is snapshotted under the lock; sends happen outside it.
		s.mu.RLock()
		for id, other := range s.peers {
			if id != p.id {
				recipients = append(recipients, other)
			}
		}
		s.mu.RUnlock()
	}

	for _, r := range recipients {
		if err := r.writeRaw(out); err != nil {
			slog.Warn("relay send failed", "target", r.id, "error", err)
		}
	}
}
