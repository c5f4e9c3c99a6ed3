package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender delivers server messages to one connected session. Enqueue must
// not block; it reports false when the session can no longer accept
// messages, and the hub simply skips that recipient.
type Sender interface {
	Enqueue(msg ServerMessage) bool
}

// Liveness is the ephemeral cross-instance registration for documents this
// node serves. Optional; best-effort.
type Liveness interface {
	RegisterEphemeral(ctx context.Context, documentID string)
	Deregister(ctx context.Context, documentID string)
}

// Member is one live session inside a room.
type Member struct {
	SessionID string
	UserID    string
	Out       Sender
}

// Room owns the membership and presence of one document. All mutation and
// snapshot enumeration go through its mutex; no other code touches the
// maps. Delivery happens outside the lock against a stable snapshot, so a
// slow recipient never stalls the room.
type Room struct {
	documentID string

	mu      sync.Mutex
	members map[string]*Member // sessionID -> member
	names   map[string]string  // userID -> displayName, latest write wins
	closed  bool               // set when the room emptied and left the registry
}

// Hub is the per-document room registry. Its lock covers only map
// insertion and removal; rooms serialize their own state.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	liveness Liveness
	logger   *zap.Logger
}

func NewHub(liveness Liveness, logger *zap.Logger) *Hub {
	return &Hub{rooms: make(map[string]*Room), liveness: liveness, logger: logger}
}

func (h *Hub) room(documentID string) *Room {
	h.mu.RLock()
	r := h.rooms[documentID]
	h.mu.RUnlock()
	return r
}

func (h *Hub) getOrCreateRoom(documentID string) *Room {
	if r := h.room(documentID); r != nil {
		return r
	}
	h.mu.Lock()
	r := h.rooms[documentID]
	created := r == nil
	if created {
		r = &Room{
			documentID: documentID,
			members:    make(map[string]*Member),
			names:      make(map[string]string),
		}
		h.rooms[documentID] = r
	}
	h.mu.Unlock()
	if created && h.liveness != nil {
		h.liveness.RegisterEphemeral(context.Background(), documentID)
	}
	return r
}

func (h *Hub) removeRoom(documentID string, r *Room) {
	h.mu.Lock()
	if h.rooms[documentID] == r {
		delete(h.rooms, documentID)
	}
	h.mu.Unlock()
	if h.liveness != nil {
		h.liveness.Deregister(context.Background(), documentID)
	}
}

// Join registers the session in the document's room and returns the
// display names of the other live sessions, for the EXISTING_PRESENCE
// reply. It broadcasts USER_JOINED to the other members and USER_LIST to
// the whole room.
//
// The init callback runs with the room still held, right after the member
// is registered. An edit committed before that point is visible to
// whatever init reads (its broadcast either already skipped the absent
// member, in which case the operation log holds it, or is still blocked on
// the room); an edit committed after is broadcast to the member. Messages
// init enqueues therefore land on the send channel ahead of every
// broadcast that can see the new member, and nothing falls between.
func (h *Hub) Join(documentID string, m Member, displayName string, init func(out Sender)) map[string]string {
	for {
		r := h.getOrCreateRoom(documentID)
		r.mu.Lock()
		if r.closed {
			// Lost a race with the room's discard; take a fresh one.
			r.mu.Unlock()
			continue
		}
		existing := make(map[string]string)
		for _, other := range r.members {
			if name, ok := r.names[other.UserID]; ok {
				existing[other.UserID] = name
			}
		}
		r.members[m.SessionID] = &m
		if displayName != "" {
			r.names[m.UserID] = displayName
		}
		if init != nil {
			init(m.Out)
		}
		name := r.names[m.UserID]
		others := r.snapshotLocked(m.SessionID)
		all := r.snapshotLocked("")
		users := r.userListLocked()
		r.mu.Unlock()

		deliver(others, ServerMessage{
			Type:      TypeUserJoined,
			UserID:    m.UserID,
			Username:  name,
			Timestamp: time.Now().UnixMilli(),
		}, h.logger)
		deliver(all, ServerMessage{Type: TypeUserList, Users: users}, h.logger)
		return existing
	}
}

// Leave removes the session from its room, discarding the room when it
// empties, and broadcasts USER_LEFT to the remaining members.
func (h *Hub) Leave(documentID, sessionID string) {
	r := h.room(documentID)
	if r == nil {
		return
	}
	r.mu.Lock()
	m, ok := r.members[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, sessionID)
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	remaining := r.snapshotLocked("")
	r.mu.Unlock()

	if empty {
		h.removeRoom(documentID, r)
	}
	deliver(remaining, ServerMessage{
		Type:      TypeUserLeft,
		UserID:    m.UserID,
		Timestamp: time.Now().UnixMilli(),
	}, h.logger)
}

// Broadcast delivers msg to every room member except the named session.
func (h *Hub) Broadcast(documentID string, msg ServerMessage, exceptSessionID string) {
	r := h.room(documentID)
	if r == nil {
		return
	}
	r.mu.Lock()
	targets := r.snapshotLocked(exceptSessionID)
	r.mu.Unlock()
	deliver(targets, msg, h.logger)
}

// BroadcastAll delivers msg to every session in every room except the
// sender. Cross-room, for document-created notifications.
func (h *Hub) BroadcastAll(msg ServerMessage, exceptSessionID string) {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()
	for _, r := range rooms {
		r.mu.Lock()
		targets := r.snapshotLocked(exceptSessionID)
		r.mu.Unlock()
		deliver(targets, msg, h.logger)
	}
}

// UpdateName records the latest display name for a user and relays it to
// the other room members.
func (h *Hub) UpdateName(documentID, sessionID, userID, displayName string) {
	r := h.room(documentID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.names[userID] = displayName
	targets := r.snapshotLocked(sessionID)
	r.mu.Unlock()
	deliver(targets, ServerMessage{Type: TypeUserJoined, UserID: userID, Username: displayName}, h.logger)
}

// snapshotLocked copies the membership minus one session. Caller holds
// r.mu.
func (r *Room) snapshotLocked(exceptSessionID string) []*Member {
	out := make([]*Member, 0, len(r.members))
	for id, m := range r.members {
		if id == exceptSessionID {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *Room) userListLocked() []string {
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.UserID)
	}
	return out
}

func deliver(targets []*Member, msg ServerMessage, logger *zap.Logger) {
	for _, m := range targets {
		if !m.Out.Enqueue(msg) {
			// Closed or saturated recipient: skip, never wait.
			logger.Debug("dropped delivery", zap.String("sessionId", m.SessionID), zap.String("type", msg.Type))
		}
	}
}
