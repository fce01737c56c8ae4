package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_RequiresRoomID(t *testing.T) {
	var req roomRequest

	err := decodePayload(json.RawMessage(`{"roomId":"doc1"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, "doc1", req.RoomID)

	err = decodePayload(json.RawMessage(`{}`), &roomRequest{})
	assert.Error(t, err)

	err = decodePayload(json.RawMessage(`not json`), &roomRequest{})
	assert.Error(t, err)
}

func TestDecodePayload_CursorKeepsPositionOpaque(t *testing.T) {
	var req cursorRequest

	err := decodePayload(json.RawMessage(`{"roomId":"doc1","position":[10,2]}`), &req)
	require.NoError(t, err)
	assert.JSONEq(t, `[10,2]`, string(req.Position))

	// Position is required but its shape is not interpreted
	err = decodePayload(json.RawMessage(`{"roomId":"doc1"}`), &cursorRequest{})
	assert.Error(t, err)
}

func TestEncodeFrame(t *testing.T) {
	data, err := encodeFrame(EventPeerJoined, peerData{
		UserID:      "userA",
		DisplayName: "Alice",
		RoomID:      "doc1",
	})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, EventPeerJoined, frame.Event)
	assert.NotZero(t, frame.Timestamp)

	var peer peerData
	require.NoError(t, json.Unmarshal(frame.Data, &peer))
	assert.Equal(t, "userA", peer.UserID)
	assert.Equal(t, "doc1", peer.RoomID)
}

func TestGlobalAudience(t *testing.T) {
	assert.True(t, globalAudience(EventUserOnline))
	assert.True(t, globalAudience(EventUserOffline))
	assert.False(t, globalAudience(EventPeerJoined))
	assert.False(t, globalAudience(EventCursorMoved))
	assert.False(t, globalAudience(EventDocumentChange))
}
