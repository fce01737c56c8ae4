// Package replication makes room and presence events visible across sibling
// server processes through a shared pub/sub broker.
//
// The rest of the system depends on the Bridge interface only; whether
// replication is enabled is decided once at wiring time by choosing the
// redis-backed implementation or the no-op one. Core logic never branches on
// "is replication enabled".
package replication

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is the serialized copy of a locally-originated event published to
// the broker channel. Origin carries the publishing instance's ID so
// subscribers can drop their own messages and avoid propagation loops.
type Envelope struct {
	Origin      string          `json:"origin"`
	Event       string          `json:"event"`
	RoomID      string          `json:"roomId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Handler is invoked for every envelope received from a sibling instance
type Handler func(env Envelope)

// Bridge publishes replication envelopes and delivers sibling-instance ones
type Bridge interface {
	// Publish sends a locally-originated event to the broker. The bridge
	// stamps the envelope with this instance's origin ID.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe starts delivering sibling-instance envelopes to handler
	// until ctx is cancelled. Own-origin messages are filtered out before
	// handler is invoked.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases broker resources
	Close() error
}

// NopBridge is the single-instance implementation: publishes vanish and no
// remote events ever arrive.
type NopBridge struct{}

// Publish does nothing
func (NopBridge) Publish(ctx context.Context, env Envelope) error { return nil }

// Subscribe does nothing
func (NopBridge) Subscribe(ctx context.Context, handler Handler) error { return nil }

// Close does nothing
func (NopBridge) Close() error { return nil }
