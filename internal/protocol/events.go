package protocol

import (
	"encoding/json"
	"time"

	"go-livechat/internal/ipinfo"
)

// Client -> Server events
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventTyping      = "typing"

	// playback socket
	EventTick        = "tick"
	EventSeek        = "seek"
	EventSendDanmaku = "send"
)

// Server -> Client events
const (
	EventYourIP      = "your_ip"
	EventOnlineUsers = "online_users"
	EventUserCount   = "user_count"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventNewMessage  = "new_message"
	EventUserTyping  = "user_typing"
	EventError       = "error"

	// playback socket
	EventDanmakuEvents = "danmaku_events"
	EventDanmakuLoaded = "danmaku_loaded"
)

// Envelope is what goes over the wire in both directions: {"event": "...", "data": ...}.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Frame is an inbound Envelope whose payload has not been decoded yet.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the frame payload into v. A missing payload decodes into the zero value.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// Marshal encodes an outbound envelope.
func Marshal(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ---------------------------------------------
// Inbound payloads
// ---------------------------------------------

type SendMessage struct {
	Message *string `json:"message"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

// ---------------------------------------------
// Outbound payloads
// ---------------------------------------------

type YourIP struct {
	IP          string       `json:"ip"`
	Formatted   string       `json:"formatted"`
	DisplayName string       `json:"displayName"`
	Info        *ipinfo.Info `json:"info,omitempty"`
}

type OnlineUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type UserCount struct {
	Count int `json:"count"`
}

type UserPresence struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type NewMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type UserTyping struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorAck is sent only to the connection whose request was rejected.
type ErrorAck struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PlaybackPosition is the payload of tick and seek frames on the playback socket.
type PlaybackPosition struct {
	CurrentTimeMs int64 `json:"currentTimeMs"`
}

type DanmakuLoaded struct {
	Count int `json:"count"`
}
