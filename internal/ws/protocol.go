package ws

import (
	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/stream"
)

// MessageType names a WebSocket message.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgStream   MessageType = "stream"
	MsgArmed    MessageType = "armed"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope for every message on the feed.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// SnapshotPayload is the full state, sent on connect and periodically.
type SnapshotPayload = kuntur.State

type StreamPayload = stream.Snapshot

type ArmedPayload = armed.State

// ErrorPayload reports an asynchronous intent that failed outside any
// session state (for example a start requested before registration).
type ErrorPayload struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
