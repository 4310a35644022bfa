package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// runPairingBridge serves an unauthenticated pairing caller. The request is
// forwarded to the desktop's relay connection with a generated request id;
// the caller's socket is held open until the desktop answers, the bridge
// window elapses, or the caller hangs up.
func (s *Server) runPairingBridge(conn *websocket.Conn, frame handshakeFrame) {
	if frame.PairingCode == "" || frame.DevicePublicKey == "" {
		closeConn(conn, protocol.CloseMalformedPairing, "pairing_request requires pairing_code and device_public_key")
		return
	}

	desktop := s.desktopPeer()
	if desktop == nil {
		slog.Warn("pairing request with no desktop connected")
		closeConn(conn, protocol.CloseDesktopNotConnected, "desktop not connected")
		return
	}

	requestID := uuid.NewString()
	resolved := make(chan protocol.PairingResponseFrame, 1)

	s.pairMu.Lock()
	s.pending[requestID] = resolved
	s.pairMu.Unlock()
	defer func() {
		s.pairMu.Lock()
		delete(s.pending, requestID)
		s.pairMu.Unlock()
	}()

	forward := protocol.PairingRequestFrame{
		Type:            protocol.FramePairingRequest,
		RequestID:       requestID,
		PairingCode:     frame.PairingCode,
		DevicePublicKey: frame.DevicePublicKey,
	}
	if err := desktop.writeJSON(forward); err != nil {
		slog.Warn("pairing forward to desktop failed", "error", err)
		closeConn(conn, protocol.CloseDesktopNotConnected, "desktop not connected")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(protocol.PairingPendingFrame{
		Type:      protocol.FramePairingPending,
		RequestID: requestID,
	}); err != nil {
		conn.Close()
		return
	}
	slog.Info("pairing request bridged", "request_id", requestID)

	// Detect the caller hanging up while we wait. The caller sends nothing
	// further, so the only read outcome is an error.
	gone := make(chan struct{})
	go func() {
		conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(gone)
				return
			}
		}
	}()

	select {
	case resp := <-resolved:
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			conn.Close()
			return
		}
		slog.Info("pairing resolved", "request_id", requestID, "status", resp.Status)
		closeConn(conn, protocol.CloseNormal, "pairing complete")
	case <-time.After(pairingTimeout):
		slog.Warn("pairing timed out", "request_id", requestID)
		closeConn(conn, protocol.ClosePairingTimeout, "pairing timeout")
	case <-gone:
		slog.Info("pairing caller disconnected", "request_id", requestID)
	}
}

// resolvePairing routes a desktop pairing_response to the waiting bridge.
// Responses for unknown or already-resolved request ids are dropped.
func (s *Server) resolvePairing(raw []byte) {
	var resp protocol.PairingResponseFrame
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("malformed pairing_response from desktop", "error", err)
		return
	}
	if resp.RequestID == "" {
		slog.Warn("pairing_response without request_id dropped")
		return
	}

	s.pairMu.Lock()
	ch, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.pairMu.Unlock()

	if !ok {
		slog.Warn("pairing_response for unknown request", "request_id", resp.RequestID)
		return
	}
	ch <- resp
}
