package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"collabsync-backend/internal/presence"
)

// Client -> server events
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventCursorUpdate   = "cursor-update"
	EventDocumentChange = "document-change"
	EventFragmentAdded  = "fragment-added"
	EventTaskUpdated    = "task-updated"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
)

// Server -> client events
const (
	EventConnectionEstablished = "connection-established"
	EventParticipantsSnapshot  = "participants-snapshot"
	EventPeerJoined            = "peer-joined"
	EventPeerLeft              = "peer-left"
	EventCursorMoved           = "cursor-moved"
	EventTypingStarted         = "typing-started"
	EventTypingStopped         = "typing-stopped"
	EventUserOnline            = "user-online"
	EventUserOffline           = "user-offline"
)

// Frame is the wire format for every message in both directions
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

var validate = validator.New()

// Inbound payloads

// roomRequest covers join-room, leave-room, typing-start and typing-stop
type roomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

// cursorRequest is the cursor-update payload. Position is opaque bytes; the
// coordinator relays it without interpreting the coordinate scheme.
type cursorRequest struct {
	RoomID   string          `json:"roomId" validate:"required"`
	Position json.RawMessage `json:"position" validate:"required"`
}

// mutationRequest is the shared shape of document-change, fragment-added and
// task-updated payloads. Everything besides the room reference stays opaque.
type mutationRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

// Outbound payloads

type connectionEstablishedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

type snapshotData struct {
	RoomID       string            `json:"roomId"`
	Participants []presence.Member `json:"participants"`
}

type peerData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	RoomID      string `json:"roomId"`
}

type cursorMovedData struct {
	UserID   string          `json:"userId"`
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

type typingData struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type presenceData struct {
	UserID string `json:"userId"`
}

// mutationData is a relayed mutation as seen by the author's room peers. The
// payload is the author's original event data, untouched.
type mutationData struct {
	UserID  string          `json:"userId"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// encodeFrame builds the wire bytes for an outbound event
func encodeFrame(event string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", event, err)
	}

	frame := Frame{
		Event:     event,
		Data:      jsonData,
		Timestamp: time.Now().Unix(),
	}
	return json.Marshal(frame)
}

// decodePayload unmarshals and validates an inbound frame payload
func decodePayload(data json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// globalAudience reports whether an event is delivered to every connection
// instead of being room-scoped
func globalAudience(event string) bool {
	return event == EventUserOnline || event == EventUserOffline
}
