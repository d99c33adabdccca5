// Package realtime pushes document updates to every connected device of
// the same identity. The server side is a per-identity Hub (optionally
// relayed across instances through Redis) exposed over a WebSocket; the
// client side is a Subscriber that keeps one connection open.
package realtime

import (
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
)

// Frame ops.
const (
	OpUpdate = "update"
	OpPing   = "ping"
	OpPong   = "pong"
)

// Event is one frame on the realtime channel. Update frames carry the
// complete new document.
type Event struct {
	Op        string            `json:"op"`
	New       document.Document `json:"new,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitzero"`
	Device    string            `json:"device,omitempty"`
}

// UpdateEvent builds the update frame for rec.
func UpdateEvent(rec document.Record) Event {
	doc := rec.Document
	if doc == nil {
		doc = document.Document{}
	}

	return Event{Op: OpUpdate, New: doc, UpdatedAt: rec.UpdatedAt, Device: rec.Device}
}

// Record returns the record carried by an update frame.
func (e Event) Record() document.Record {
	doc := e.New
	if doc == nil {
		doc = document.Document{}
	}

	return document.Record{Document: doc, UpdatedAt: e.UpdatedAt, Device: e.Device}
}
