package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Member is a read-only view of one room participant
type Member struct {
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Cursor      json.RawMessage `json:"cursor"`
}

// session is the mutable presence record for one authenticated user.
// A user maps to at most one session; a second connection for the same user
// supersedes the first.
type session struct {
	connID      string
	displayName string
	roomID      string // empty = not in a room
	cursor      json.RawMessage
	joinedAt    time.Time
}

// Stats is a point-in-time snapshot of store counters
type Stats struct {
	OnlineUsers int            `json:"onlineUsers"`
	RoomCount   int            `json:"roomCount"`
	RoomMembers map[string]int `json:"roomMembers"`
}

// DisconnectResult describes what a disconnect actually tore down
type DisconnectResult struct {
	Matched    bool   // the connection still owned the session
	RoomLeft   string // room the user was removed from, if any
	WasOnline  bool   // user was removed from the online set
	RoomClosed bool   // the room became empty and was deleted
}

// Store is the single piece of mutable shared state: sessions, rooms and the
// online-users set, guarded by one mutex. Every method completes in memory
// without I/O; broker and persistence calls must happen outside these
// critical sections.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session            // userID -> session
	rooms    map[string]map[string]struct{} // roomID -> member userIDs
	online   map[string]struct{}
	logger   *zap.Logger
}

// NewStore creates an empty presence store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]struct{}),
		online:   make(map[string]struct{}),
		logger:   logger,
	}
}

// Connect records a freshly authenticated user as online. If the user already
// has a live session, the old one is superseded; the returned result carries
// the superseded connection ID and whatever room the old session was in, so
// the caller can close the stale socket and re-broadcast the departure.
func (s *Store) Connect(userID, displayName, connID string) (supersededConn, roomLeft string, roomClosed, wasOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasOnline = s.online[userID]

	if prev, ok := s.sessions[userID]; ok {
		supersededConn = prev.connID
		roomLeft, roomClosed = s.removeFromRoomLocked(userID, prev.roomID)
	}

	s.sessions[userID] = &session{
		connID:      connID,
		displayName: displayName,
		joinedAt:    time.Now(),
	}
	s.online[userID] = struct{}{}

	s.logger.Debug("Session created",
		zap.String("userID", userID),
		zap.String("connectionID", connID),
		zap.Bool("superseded", supersededConn != ""),
	)
	return supersededConn, roomLeft, roomClosed, wasOnline
}

// Join places the user in the target room, leaving any prior room first. The
// returned members slice is the full membership of the room after the join,
// taken under the same lock as the mutation so callers never see a torn view.
// already is true when the user was in the room before the call; no state
// changed and no join event should be emitted.
func (s *Store) Join(userID, roomID string) (members []Member, prevRoom string, prevRoomClosed, already, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[userID]
	if !exists {
		// Mid-reconnect client; expired request, not an error.
		return nil, "", false, false, false
	}

	if sess.roomID == roomID {
		return s.membersLocked(roomID), "", false, true, true
	}

	prevRoom, prevRoomClosed = s.removeFromRoomLocked(userID, sess.roomID)

	room, exists := s.rooms[roomID]
	if !exists {
		room = make(map[string]struct{})
		s.rooms[roomID] = room
	}
	room[userID] = struct{}{}
	sess.roomID = roomID
	sess.cursor = nil

	return s.membersLocked(roomID), prevRoom, prevRoomClosed, false, true
}

// Leave removes the user from the room. A request naming a room the session
// is not actually in is stale and leaves the session untouched.
func (s *Store) Leave(userID, roomID string) (roomClosed, left bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[userID]
	if !exists || sess.roomID != roomID {
		return false, false
	}

	_, roomClosed = s.removeFromRoomLocked(userID, roomID)
	return roomClosed, true
}

// Disconnect tears down the user's session: leaves their current room,
// deletes the session and removes them from the online set. The connID guard
// makes the operation idempotent and keeps a late disconnect from a
// superseded connection from tearing down its replacement.
func (s *Store) Disconnect(userID, connID string) DisconnectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[userID]
	if !exists || sess.connID != connID {
		return DisconnectResult{}
	}

	roomLeft, roomClosed := s.removeFromRoomLocked(userID, sess.roomID)
	delete(s.sessions, userID)

	_, wasOnline := s.online[userID]
	delete(s.online, userID)

	s.logger.Debug("Session removed",
		zap.String("userID", userID),
		zap.String("connectionID", connID),
		zap.String("roomLeft", roomLeft),
	)

	return DisconnectResult{
		Matched:    true,
		RoomLeft:   roomLeft,
		WasOnline:  wasOnline,
		RoomClosed: roomClosed,
	}
}

// UpdateCursor stores the user's last-known cursor. Stale references (no
// session, or session in a different room) are silent no-ops.
func (s *Store) UpdateCursor(userID, roomID string, cursor json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[userID]
	if !exists || sess.roomID != roomID {
		return false
	}
	sess.cursor = cursor
	return true
}

// InRoom reports whether the user currently has a session in the given room
func (s *Store) InRoom(userID, roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[userID]
	return exists && roomID != "" && sess.roomID == roomID
}

// Members returns the membership snapshot of a room
func (s *Store) Members(roomID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(roomID)
}

// MemberIDs returns the user IDs currently in a room
func (s *Store) MemberIDs(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// DisplayName returns the display name recorded for an online user
func (s *Store) DisplayName(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess.displayName
	}
	return ""
}

// Stats returns a read-only snapshot of store counters. It never blocks on
// broker or persistence calls.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		OnlineUsers: len(s.online),
		RoomCount:   len(s.rooms),
		RoomMembers: make(map[string]int, len(s.rooms)),
	}
	for roomID, members := range s.rooms {
		stats.RoomMembers[roomID] = len(members)
	}
	return stats
}

// removeFromRoomLocked removes the user from roomID, deletes the room when it
// empties, and clears the session's room reference. Callers hold s.mu.
func (s *Store) removeFromRoomLocked(userID, roomID string) (roomLeft string, roomClosed bool) {
	if roomID == "" {
		return "", false
	}

	room, exists := s.rooms[roomID]
	if !exists {
		return "", false
	}
	if _, member := room[userID]; !member {
		return "", false
	}

	delete(room, userID)
	if len(room) == 0 {
		// No dangling empty rooms.
		delete(s.rooms, roomID)
		roomClosed = true
	}

	if sess, ok := s.sessions[userID]; ok && sess.roomID == roomID {
		sess.roomID = ""
		sess.cursor = nil
	}

	return roomID, roomClosed
}

// membersLocked builds the membership snapshot. Callers hold s.mu.
func (s *Store) membersLocked(roomID string) []Member {
	room := s.rooms[roomID]
	members := make([]Member, 0, len(room))
	for userID := range room {
		m := Member{UserID: userID}
		if sess, ok := s.sessions[userID]; ok {
			m.DisplayName = sess.displayName
			m.Cursor = sess.cursor
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members
}
