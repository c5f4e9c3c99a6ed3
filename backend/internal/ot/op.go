package ot

// Kind is the operation type on the wire.
type Kind string

const (
	Insert Kind = "INSERT"
	Delete Kind = "DELETE"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	return k == Insert || k == Delete
}

// Operation is one atomic edit submitted by a client. Once appended to the
// operation log it is immutable: a DELETE is itself an appended record, not
// a removal of history. Payload holds the inserted text for INSERT and the
// removed text for DELETE, which lets transform and replay recompute ranges
// without a separate tombstone table.
type Operation struct {
	ID         string `json:"id,omitempty"`
	DocumentID string `json:"documentId"`
	AuthorID   string `json:"userId"`
	Kind       Kind   `json:"type"`
	Position   int    `json:"position"`
	Payload    string `json:"text"`
	// Timestamp is the server receipt time in unix milliseconds. It orders
	// replay and drives the concurrency window.
	Timestamp int64 `json:"timestamp"`
	// Version is assigned exactly once, by the operation log on append.
	Version int  `json:"version,omitempty"`
	Applied bool `json:"applied"`
}
