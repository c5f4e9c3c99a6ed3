package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabnotes/backend/internal/collab"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub    *Hub
	svc    *collab.Service
	logger *zap.Logger
}

func NewManager(hub *Hub, svc *collab.Service, logger *zap.Logger) *Manager {
	return &Manager{hub: hub, svc: svc, logger: logger}
}

// WebSocketConnect upgrades the request and runs the session. Handshake
// parameters come from the query string (gin percent-decodes them); a
// connection missing documentId or userId never joins a room and ignores
// every message until it closes.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	documentID := c.Query("documentId")
	userID := c.Query("userId")
	username := c.Query("username")

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed",
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.Error(err))
		return
	}
	defer wsConn.Close()

	conn := NewConn(wsConn, m.hub, m.svc, m.logger, uuid.NewString(), documentID, userID)
	go conn.writeLoop()

	if conn.joined {
		m.logger.Info("session joined",
			zap.String("docId", documentID),
			zap.String("userId", userID),
			zap.String("sessionId", conn.sessionID))

		existing := m.hub.Join(documentID, Member{
			SessionID: conn.sessionID,
			UserID:    userID,
			Out:       conn,
		}, username, func(out Sender) {
			// Registration happened first, so the snapshot covers every
			// edit whose broadcast could not reach this session, and
			// INIT_HISTORY precedes every broadcast that can.
			history, err := m.svc.History(c.Request.Context(), documentID)
			if err != nil {
				m.logger.Warn("history load failed", zap.String("docId", documentID), zap.Error(err))
			}
			out.Enqueue(ServerMessage{
				Type:       TypeInitHistory,
				DocumentID: documentID,
				Operations: history,
			})
		})
		if len(existing) > 0 {
			conn.Enqueue(ServerMessage{Type: TypeExistingPresence, Usernames: existing})
		}
	}

	conn.readLoop(c.Request.Context())
	m.logger.Info("session closed",
		zap.String("docId", documentID),
		zap.String("sessionId", conn.sessionID))
}
