package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types sent to browsers.
const (
	// MessageReload asks the page to reload.
	MessageReload = "reload"
	// MessageComponentUpdated names a component that was recompiled.
	MessageComponentUpdated = "component_updated"
	// MessageDocumentUpdated names a document that changed in storage.
	MessageDocumentUpdated = "document_updated"
	// MessageError carries a compile error for the overlay.
	MessageError = "error"
)

// Client represents a WebSocket client connection
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	connectedAt time.Time
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
