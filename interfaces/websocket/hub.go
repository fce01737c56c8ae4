package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"collabsync-backend/infrastructure/replication"
	"collabsync-backend/internal/observability"
	"collabsync-backend/internal/presence"
	"collabsync-backend/internal/relay"
)

// Hub owns the connection registry and fans presence and mutation events out
// to the right audience. Room-scoped deliveries never include the originating
// connection; the originator already knows its own state.
//
// Delivery is fire-and-forget to currently-connected peers. There is no
// delivery confirmation, retry or replay; adding queueing here would change
// the deliberately best-effort presence semantics.
//
// Locking discipline: clients-map enqueues happen under RLock and send
// channels are only ever closed under the write lock, so a channel can never
// be closed while a fan-out holds it. Register and Unregister mutate the
// store under h.mu as well, keeping the map occupant and the session's
// connection ID in lockstep; the lock order is always hub then store, and
// store methods never call back into the hub, so the order cannot invert.
type Hub struct {
	clients map[string]*Client // userID -> active connection
	mu      sync.RWMutex

	store   *presence.Store
	relay   *relay.Relay
	bridge  replication.Bridge
	metrics *observability.Collector

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// Broker publish health; loss and recovery are logged once per transition
	pubDegraded atomic.Bool
}

// NewHub creates a hub over the given presence store and collaborators
func NewHub(store *presence.Store, mutations *relay.Relay, bridge replication.Bridge, metrics *observability.Collector, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients: make(map[string]*Client),
		store:   store,
		relay:   mutations,
		bridge:  bridge,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Run keeps hub gauges fresh and tears all connections down on shutdown
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case <-ticker.C:
			h.refreshGauges()
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Register admits an authenticated connection: records the session, announces
// the user online and delivers the connection-established frame. A second
// connection for an already-online user supersedes the first.
func (h *Hub) Register(c *Client) {
	// Session swap and map swap must be one critical section: if two
	// registrations for the same user interleave between them, the map
	// occupant and the session owner diverge and a late disconnect from the
	// loser tears down the winner's session.
	h.mu.Lock()
	supersededConn, roomLeft, _, wasOnline := h.store.Connect(c.userID, c.displayName, c.id)
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	if old != nil && old != c {
		close(old.send)
	}
	h.mu.Unlock()

	if old != nil && old != c && old.conn != nil {
		old.conn.Close()
	}

	if supersededConn != "" {
		h.logger.Info("Connection superseded",
			zap.String("userID", c.userID),
			zap.String("oldConnectionID", supersededConn),
			zap.String("newConnectionID", c.id),
		)
		if roomLeft != "" {
			h.announcePeerLeft(c.userID, c.displayName, roomLeft)
		}
	}

	if data, err := encodeFrame(EventConnectionEstablished, connectionEstablishedData{
		ConnectionID: c.id,
		UserID:       c.userID,
	}); err == nil {
		h.sendToUser(c.userID, data)
	}

	if !wasOnline {
		h.announcePresence(EventUserOnline, c.userID)
	}

	h.refreshGauges()
	h.logger.Info("Client registered",
		zap.String("userID", c.userID),
		zap.String("connectionID", c.id),
	)
}

// Unregister runs the disconnect cleanup for a connection. It is idempotent
// and safe against a late disconnect from a superseded connection: the
// session is only torn down when this connection still owns it.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
		close(c.send)
	}
	res := h.store.Disconnect(c.userID, c.id)
	h.mu.Unlock()

	if res.Matched {
		if res.RoomLeft != "" {
			h.announcePeerLeft(c.userID, c.displayName, res.RoomLeft)
		}
		if res.WasOnline {
			h.announcePresence(EventUserOffline, c.userID)
		}

		h.logger.Info("Client unregistered",
			zap.String("userID", c.userID),
			zap.String("connectionID", c.id),
			zap.String("roomLeft", res.RoomLeft),
		)
	}

	h.refreshGauges()
}

// HandleFrame dispatches one inbound frame from a connection
func (h *Hub) HandleFrame(c *Client, frame Frame) {
	switch frame.Event {
	case EventJoinRoom:
		h.handleJoin(c, frame.Data)
	case EventLeaveRoom:
		h.handleLeave(c, frame.Data)
	case EventCursorUpdate:
		h.handleCursor(c, frame.Data)
	case EventTypingStart:
		h.handleTyping(c, frame.Data, EventTypingStarted)
	case EventTypingStop:
		h.handleTyping(c, frame.Data, EventTypingStopped)
	case EventDocumentChange, EventFragmentAdded, EventTaskUpdated:
		h.handleMutation(c, frame)
	default:
		c.logger.Debug("Ignoring unknown event", zap.String("event", frame.Event))
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := decodePayload(data, &req); err != nil {
		c.logger.Debug("Ignoring join-room", zap.Error(err))
		return
	}

	members, prevRoom, _, already, ok := h.store.Join(c.userID, req.RoomID)
	if !ok {
		// Session already gone, client is mid-reconnect.
		return
	}

	if prevRoom != "" {
		h.announcePeerLeft(c.userID, c.displayName, prevRoom)
	}

	if !already {
		if data, err := encodeFrame(EventPeerJoined, peerData{
			UserID:      c.userID,
			DisplayName: c.displayName,
			RoomID:      req.RoomID,
		}); err == nil {
			h.broadcastRoom(req.RoomID, c.userID, data)
		}
		h.publish(EventPeerJoined, req.RoomID, c.userID, c.displayName, peerData{
			UserID:      c.userID,
			DisplayName: c.displayName,
			RoomID:      req.RoomID,
		})
	}

	// The joining client always gets the snapshot, re-join included.
	if data, err := encodeFrame(EventParticipantsSnapshot, snapshotData{
		RoomID:       req.RoomID,
		Participants: members,
	}); err == nil {
		h.sendToUser(c.userID, data)
	}
}

func (h *Hub) handleLeave(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := decodePayload(data, &req); err != nil {
		c.logger.Debug("Ignoring leave-room", zap.Error(err))
		return
	}

	_, left := h.store.Leave(c.userID, req.RoomID)
	if !left {
		return
	}

	h.announcePeerLeft(c.userID, c.displayName, req.RoomID)
}

func (h *Hub) handleCursor(c *Client, data json.RawMessage) {
	var req cursorRequest
	if err := decodePayload(data, &req); err != nil {
		c.logger.Debug("Ignoring cursor-update", zap.Error(err))
		return
	}

	if !h.store.UpdateCursor(c.userID, req.RoomID, req.Position) {
		return
	}

	moved := cursorMovedData{
		UserID:   c.userID,
		RoomID:   req.RoomID,
		Position: req.Position,
	}
	if data, err := encodeFrame(EventCursorMoved, moved); err == nil {
		h.broadcastRoom(req.RoomID, c.userID, data)
	}
	h.publish(EventCursorMoved, req.RoomID, c.userID, c.displayName, moved)
}

func (h *Hub) handleTyping(c *Client, data json.RawMessage, event string) {
	var req roomRequest
	if err := decodePayload(data, &req); err != nil {
		c.logger.Debug("Ignoring typing event", zap.Error(err))
		return
	}

	if !h.store.InRoom(c.userID, req.RoomID) {
		return
	}

	typing := typingData{UserID: c.userID, RoomID: req.RoomID}
	if data, err := encodeFrame(event, typing); err == nil {
		h.broadcastRoom(req.RoomID, c.userID, data)
	}
	h.publish(event, req.RoomID, c.userID, c.displayName, typing)
}

// handleMutation relays a document-change class message to the author's room
// peers synchronously, then schedules the asynchronous durable write. The
// live relay never waits on persistence.
func (h *Hub) handleMutation(c *Client, frame Frame) {
	var req mutationRequest
	if err := decodePayload(frame.Data, &req); err != nil {
		c.logger.Debug("Ignoring mutation", zap.String("event", frame.Event), zap.Error(err))
		return
	}

	if !h.store.InRoom(c.userID, req.RoomID) {
		return
	}

	relayed := mutationData{
		UserID:  c.userID,
		RoomID:  req.RoomID,
		Payload: frame.Data,
	}
	if data, err := encodeFrame(frame.Event, relayed); err == nil {
		h.broadcastRoom(req.RoomID, c.userID, data)
	}

	h.relay.Schedule(relay.Mutation{
		RoomID:    req.RoomID,
		AuthorID:  c.userID,
		Kind:      frame.Event,
		Payload:   frame.Data,
		Timestamp: time.Now(),
	})

	h.publish(frame.Event, req.RoomID, c.userID, c.displayName, relayed)
}

// ApplyRemote re-invokes the local broadcast logic for an event originated on
// a sibling instance. It never re-publishes: the loop guard lives in the
// bridge, and nothing here goes back to the broker. Sibling mutations are not
// re-persisted either; the receiving instance owns that.
func (h *Hub) ApplyRemote(env replication.Envelope) {
	data, err := encodeFrame(env.Event, env.Payload)
	if err != nil {
		h.logger.Warn("Discarding replicated event", zap.String("event", env.Event), zap.Error(err))
		return
	}

	h.metrics.ReplicationReceived.Inc()

	if globalAudience(env.Event) {
		h.broadcastGlobal("", data)
		return
	}
	if env.RoomID == "" {
		return
	}
	h.broadcastRoom(env.RoomID, env.UserID, data)
}

// announcePeerLeft notifies a room that a user departed, locally and cluster-wide
func (h *Hub) announcePeerLeft(userID, displayName, roomID string) {
	left := peerData{
		UserID:      userID,
		DisplayName: displayName,
		RoomID:      roomID,
	}
	if data, err := encodeFrame(EventPeerLeft, left); err == nil {
		h.broadcastRoom(roomID, userID, data)
	}
	h.publish(EventPeerLeft, roomID, userID, displayName, left)
}

// announcePresence broadcasts user-online/user-offline to every connection.
// Presence visibility is cluster-wide, not room-scoped, and unlike room
// deliveries the originator is included; only room-scoped fan-out excludes
// the originating connection.
func (h *Hub) announcePresence(event, userID string) {
	p := presenceData{UserID: userID}
	if data, err := encodeFrame(event, p); err == nil {
		h.broadcastGlobal("", data)
	}
	h.publish(event, "", userID, "", p)
}

// publish sends a serialized copy of a locally-originated event to the
// broker. Called outside every store critical section; a slow broker can
// stall this connection's handler but never other connections' state updates.
func (h *Hub) publish(event, roomID, userID, displayName string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal replication payload", zap.String("event", event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	err = h.bridge.Publish(ctx, replication.Envelope{
		Event:       event,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		Payload:     data,
		Timestamp:   time.Now(),
	})
	if err != nil {
		h.metrics.ReplicationDropped.Inc()
		if h.pubDegraded.CompareAndSwap(false, true) {
			h.logger.Warn("Replication publish failing, sibling instances will not see local events",
				zap.Error(err),
			)
		}
		return
	}

	h.metrics.ReplicationPublished.Inc()
	if h.pubDegraded.CompareAndSwap(true, false) {
		h.logger.Info("Replication publish recovered")
	}
}

// sendToUser delivers a frame to a user's connection, dropping the connection
// if its send buffer is full
func (h *Hub) sendToUser(userID string, data []byte) {
	h.mu.RLock()
	c := h.clients[userID]
	ok := c != nil && c.enqueue(data)
	h.mu.RUnlock()

	if c == nil {
		return
	}
	if !ok {
		h.dropSlowClient(c)
		return
	}
	h.metrics.MessagesSent.Inc()
}

// broadcastRoom delivers a frame to every local member of a room except the
// originator. Membership is read under the store lock, so the audience is
// never a torn view.
func (h *Hub) broadcastRoom(roomID, exceptUserID string, data []byte) {
	for _, userID := range h.store.MemberIDs(roomID) {
		if userID == exceptUserID {
			continue
		}
		h.sendToUser(userID, data)
	}
}

// broadcastGlobal delivers a frame to every connection except the originator
func (h *Hub) broadcastGlobal(exceptUserID string, data []byte) {
	h.mu.RLock()
	var slow []*Client
	for userID, c := range h.clients {
		if userID == exceptUserID {
			continue
		}
		if c.enqueue(data) {
			h.metrics.MessagesSent.Inc()
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropSlowClient(c)
	}
}

// dropSlowClient disconnects a client whose send buffer is full rather than
// letting it stall fan-out for everyone else
func (h *Hub) dropSlowClient(c *Client) {
	h.metrics.MessagesFailed.Inc()
	h.logger.Warn("Dropping slow client",
		zap.String("userID", c.userID),
		zap.String("connectionID", c.id),
	)

	go func() {
		h.Unregister(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}()
}

// closeAllConnections closes all active connections during shutdown
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, userID)
	}

	h.logger.Info("All connections closed")
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is the hub's on-demand operational snapshot
type Stats struct {
	Connections int `json:"connections"`
	presence.Stats
}

// Stats returns current connection and presence counters. It reads only
// in-process state and never blocks on broker or persistence calls.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.ConnectionCount(),
		Stats:       h.store.Stats(),
	}
}

func (h *Hub) refreshGauges() {
	stats := h.store.Stats()
	h.metrics.ActiveConnections.Set(float64(h.ConnectionCount()))
	h.metrics.OnlineUsers.Set(float64(stats.OnlineUsers))
	h.metrics.ActiveRooms.Set(float64(stats.RoomCount))
}
