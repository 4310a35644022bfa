// Package protocol defines the shared data model of the hub: the unified
// message schema spoken by every channel plugin, the JSON-RPC 2.0 envelope
// used on the local plugin socket, and the gateway wire frames.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message direction, always from the hub's perspective.
const (
	DirectionInbound  = "inbound"  // arriving FROM a third party
	DirectionOutbound = "outbound" // to be SENT TO a third party
)

// Content types carried by a UnifiedMessage body.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentLocation = "location"
	ContentCommand  = "command"
)

// UnifiedMessage is the canonical cross-channel message format. All channels
// translate their native format to and from this model.
type UnifiedMessage struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Direction   string         `json:"direction"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	ContentType string         `json:"content_type"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewMessage returns a UnifiedMessage with a fresh id and timestamp.
func NewMessage(channel, direction string) UnifiedMessage {
	return UnifiedMessage{
		ID:          uuid.NewString(),
		Channel:     channel,
		Direction:   direction,
		ContentType: ContentText,
		Timestamp:   time.Now().UTC(),
	}
}

// Validate checks the fields the hub core depends on. Metadata is
// schema-open and never validated.
func (m *UnifiedMessage) Validate() error {
	if m.Channel == "" {
		return fmt.Errorf("message missing channel")
	}
	switch m.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("invalid direction %q", m.Direction)
	}
	if m.ContentType == "" {
		return fmt.Errorf("message missing content_type")
	}
	if m.Direction == DirectionInbound && m.SenderID == "" {
		return fmt.Errorf("inbound message missing sender_id")
	}
	return nil
}

// ConversationKey identifies the per-sender conversation used by the agent
// for memory scoping.
func (m *UnifiedMessage) ConversationKey() string {
	return m.Channel + ":" + m.SenderID
}

// ChannelInfo is the self-description a channel sends on registration.
type ChannelInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}
