package chat

import (
	"encoding/json"
	"time"

	"go-livechat/internal/presence"
	"go-livechat/internal/protocol"
)

// ---------------------------------------------
// Domain Models
// ---------------------------------------------

// ChatMessage is immutable once the relay has stamped it.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

func (m ChatMessage) wire() protocol.NewMessage {
	return protocol.NewMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Username:  m.SenderName,
		Message:   m.Body,
		Timestamp: m.SentAt,
	}
}

// typingState lives only in memory, keyed by connection id.
type typingState struct {
	name  string
	since time.Time
}

// ---------------------------------------------
// Internal Hub Models
// ---------------------------------------------

// inboundFrame is what a read pump hands to the hub loop.
// err is set when the raw bytes could not be decoded into a frame.
type inboundFrame struct {
	connID string
	frame  protocol.Frame
	err    error
}

func decodeFrame(connID string, raw []byte) inboundFrame {
	var f protocol.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return inboundFrame{connID: connID, err: err}
	}
	return inboundFrame{connID: connID, frame: f}
}

// registration carries a freshly upgraded client and what we know about it.
type registration struct {
	client *Client
	meta   presence.Meta
}
