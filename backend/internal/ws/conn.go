package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabnotes/backend/internal/collab"
	"collabnotes/backend/internal/ot"
)

// Conn is one websocket session. Lifecycle: Connecting until the handshake
// supplies both documentId and userId, then Joined; without them the
// connection stays inert (messages read and discarded) until it closes.
type Conn struct {
	ws     *websocket.Conn
	hub    *Hub
	svc    *collab.Service
	logger *zap.Logger

	sessionID  string
	documentID string
	userID     string
	joined     bool

	send     chan ServerMessage
	done     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
}

func NewConn(ws *websocket.Conn, hub *Hub, svc *collab.Service, logger *zap.Logger, sessionID, documentID, userID string) *Conn {
	return &Conn{
		ws:         ws,
		hub:        hub,
		svc:        svc,
		logger:     logger,
		sessionID:  sessionID,
		documentID: documentID,
		userID:     userID,
		joined:     documentID != "" && userID != "",
		send:       make(chan ServerMessage, 32),
		done:       make(chan struct{}),
	}
}

// Enqueue queues a message for the write loop without blocking. A closed
// connection or a full buffer drops the message and reports false.
func (c *Conn) Enqueue(msg ServerMessage) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if c.joined {
			c.hub.Leave(c.documentID, c.sessionID)
		}
	})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !c.joined {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed input goes back to the sender only; the
			// connection stays up.
			c.Enqueue(ServerMessage{Type: TypeError, Message: "malformed message"})
			continue
		}
		switch msg.Type {
		case TypeEdit:
			c.handleEdit(ctx, msg)
		case TypeCursor:
			c.hub.Broadcast(c.documentID, ServerMessage{
				Type:     TypeCursor,
				UserID:   c.userID,
				Username: msg.Username,
				Position: msg.Position,
			}, c.sessionID)
		case TypePresenceInfo:
			if msg.Username != "" {
				c.hub.UpdateName(c.documentID, c.sessionID, c.userID, msg.Username)
			}
		case TypeDocumentCreated:
			c.hub.BroadcastAll(ServerMessage{Type: TypeNewDocument, Document: msg.Document}, c.sessionID)
		default:
			// Unknown kinds are ignored for forward compatibility.
		}
	}
}

func (c *Conn) handleEdit(ctx context.Context, msg ClientMessage) {
	kind := ot.Kind(msg.Kind)
	if !kind.Valid() || msg.Position == nil || *msg.Position < 0 {
		c.Enqueue(ServerMessage{Type: TypeError, Message: "invalid operation"})
		return
	}
	incoming := ot.Operation{
		DocumentID: c.documentID,
		AuthorID:   c.userID,
		Kind:       kind,
		Position:   *msg.Position,
		Payload:    msg.Text,
		Timestamp:  time.Now().UnixMilli(),
	}
	stored, err := c.svc.Submit(ctx, incoming)
	if err != nil {
		c.logger.Warn("submit failed",
			zap.String("docId", c.documentID),
			zap.String("userId", c.userID),
			zap.Error(err))
		// Storage detail stays in the log; the client only learns the
		// edit did not take.
		c.Enqueue(ServerMessage{Type: TypeError, Message: "PROCESSING_FAILED"})
		return
	}
	c.hub.Broadcast(c.documentID, ServerMessage{Type: TypeOperation, Operation: &stored}, c.sessionID)
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
