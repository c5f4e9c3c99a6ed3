package ws

import (
	"encoding/json"

	"collabnotes/backend/internal/ot"
)

// Client→server message kinds.
const (
	TypeEdit            = "EDIT"
	TypeCursor          = "CURSOR"
	TypePresenceInfo    = "PRESENCE_INFO"
	TypeDocumentCreated = "DOCUMENT_CREATED"
)

// Server→client message kinds.
const (
	TypeInitHistory      = "INIT_HISTORY"
	TypeExistingPresence = "EXISTING_PRESENCE"
	TypeOperation        = "OPERATION"
	TypeUserJoined       = "USER_JOINED"
	TypeUserLeft         = "USER_LEFT"
	TypeUserList         = "USER_LIST"
	TypeNewDocument      = "NEW_DOCUMENT"
	TypeError            = "ERROR"
)

type ClientMessage struct {
	Type string `json:"type"`
	// EDIT fields. Position is a pointer so a missing value is
	// distinguishable from offset 0.
	Kind     string `json:"kind,omitempty"`
	Position *int   `json:"position,omitempty"`
	Text     string `json:"text,omitempty"`
	// CURSOR / PRESENCE_INFO.
	Username string `json:"username,omitempty"`
	// DOCUMENT_CREATED carries the new document's metadata verbatim.
	Document json.RawMessage `json:"document,omitempty"`
}

type ServerMessage struct {
	Type       string            `json:"type"`
	DocumentID string            `json:"documentId,omitempty"`
	Operation  *ot.Operation     `json:"operation,omitempty"`
	Operations []ot.Operation    `json:"operations,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Username   string            `json:"username,omitempty"`
	Position   *int              `json:"position,omitempty"`
	Usernames  map[string]string `json:"usernames,omitempty"`
	Users      []string          `json:"users,omitempty"`
	Document   json.RawMessage   `json:"document,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	Message    string            `json:"message,omitempty"`
}
