// Package v1 is the teamchat realtime wire contract: one JSON envelope per
// WebSocket text frame, with a typed payload selected by Type.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const Version = 1

// Client -> server events.
const (
	TypeIdentify     = "identify"
	TypeJoinChannel  = "join-channel"
	TypeLeaveChannel = "leave-channel"
	TypeSendMessage  = "send-message"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop-typing"
)

// Server -> client events.
const (
	TypeIdentified      = "identified"
	TypeChannelJoined   = "channel-joined"
	TypeChannelLeft     = "channel-left"
	TypeNewMessage      = "new-message"
	TypePresenceChanged = "presence-changed"
	TypeUserTyping      = "user-typing"
	TypeUserStopTyping  = "user-stop-typing"
	TypeError           = "error"
)

// ClientTypes are the only types a client may send.
var ClientTypes = map[string]struct{}{
	TypeIdentify:     {},
	TypeJoinChannel:  {},
	TypeLeaveChannel: {},
	TypeSendMessage:  {},
	TypeTyping:       {},
	TypeStopTyping:   {},
}

// ServerTypes are the types emitted by the server.
var ServerTypes = map[string]struct{}{
	TypeIdentified:      {},
	TypeChannelJoined:   {},
	TypeChannelLeft:     {},
	TypeNewMessage:      {},
	TypePresenceChanged: {},
	TypeUserTyping:      {},
	TypeUserStopTyping:  {},
	TypeError:           {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks an inbound (client-originated) envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := ClientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}
