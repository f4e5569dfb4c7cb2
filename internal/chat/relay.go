package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-livechat/internal/presence"
	"go-livechat/internal/protocol"
)

var (
	ErrEmptyMessage      = errors.New("chat: message is empty")
	ErrMessageTooLong    = errors.New("chat: message is too long")
	ErrUnknownConnection = errors.New("chat: unknown connection")
)

// Archiver stores relayed messages somewhere durable. It runs off the hub loop.
type Archiver interface {
	Archive(ctx context.Context, msg ChatMessage) error
}

// RelayConfig holds the relay knobs.
type RelayConfig struct {
	MaxMessageLength int           // in runes
	TypingTTL        time.Duration // a typing flag older than this is cleared by ExpireTyping
	ArchiveTimeout   time.Duration
}

// Relay fans chat messages and typing indicators out to every connection.
// It passes message bodies through untouched.
type Relay struct {
	registry *presence.Registry
	fanout   *presence.Fanout
	archiver Archiver
	cfg      RelayConfig
	typing   map[string]typingState
	now      func() time.Time
	log      zerolog.Logger
}

// RelayOption customises a Relay.
type RelayOption func(*Relay)

// WithArchiver persists every relayed message.
func WithArchiver(a Archiver) RelayOption {
	return func(r *Relay) { r.archiver = a }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func NewRelay(registry *presence.Registry, out presence.Outbox, cfg RelayConfig, logger zerolog.Logger, opts ...RelayOption) *Relay {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 500
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 6 * time.Second
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 5 * time.Second
	}
	r := &Relay{
		registry: registry,
		fanout:   presence.NewFanout(out, logger),
		cfg:      cfg,
		typing:   make(map[string]typingState),
		now:      time.Now,
		log:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SendMessage stamps a message with a server id and time and broadcasts it to everyone,
// the sender included, so all clients render messages through the same path.
func (r *Relay) SendMessage(connID, body string) (ChatMessage, error) {
	sender, ok := r.registry.Get(connID)
	if !ok {
		return ChatMessage{}, ErrUnknownConnection
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > r.cfg.MaxMessageLength {
		return ChatMessage{}, ErrMessageTooLong
	}

	now := r.now().UTC()
	msg := ChatMessage{
		ID:         newMessageID(),
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Body:       body,
		SentAt:     now,
	}
	r.registry.Touch(connID, now)

	delivered := r.fanout.ToAll(r.registry.List(), protocol.Envelope{Event: protocol.EventNewMessage, Data: msg.wire()})
	r.log.Debug().Str("conn_id", connID).Str("msg_id", msg.ID).Int("delivered", delivered).Msg("[relay] message")

	if r.archiver != nil {
		go r.archive(msg)
	}
	return msg, nil
}

func (r *Relay) archive(msg ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ArchiveTimeout)
	defer cancel()
	if err := r.archiver.Archive(ctx, msg); err != nil {
		r.log.Warn().Err(err).Str("msg_id", msg.ID).Msg("[relay] archive failed")
	}
}

// SetTyping records the typing flag and tells everyone else. Repeating a value still
// broadcasts; indicators are cheap and clients treat them as idempotent.
func (r *Relay) SetTyping(connID string, isTyping bool) error {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	now := r.now().UTC()
	if isTyping {
		st, active := r.typing[connID]
		if !active {
			st = typingState{name: conn.DisplayName}
		}
		st.since = now
		r.typing[connID] = st
	} else {
		delete(r.typing, connID)
	}
	r.registry.Touch(connID, now)
	r.fanout.ToOthers(r.registry.List(), connID, typingEnvelope(conn.DisplayName, isTyping))
	return nil
}

// ExpireTyping clears typing flags that have not been refreshed within the TTL.
func (r *Relay) ExpireTyping(now time.Time) int {
	expired := 0
	for connID, st := range r.typing {
		if now.Sub(st.since) < r.cfg.TypingTTL {
			continue
		}
		delete(r.typing, connID)
		r.fanout.ToOthers(r.registry.List(), connID, typingEnvelope(st.name, false))
		expired++
	}
	return expired
}

// Forget drops the typing flag of a connection that has gone away.
func (r *Relay) Forget(conn presence.Connection) {
	if _, ok := r.typing[conn.ID]; !ok {
		return
	}
	delete(r.typing, conn.ID)
	r.fanout.ToOthers(r.registry.List(), conn.ID, typingEnvelope(conn.DisplayName, false))
}

// Typing reports whether a connection currently has its typing flag set.
func (r *Relay) Typing(connID string) bool {
	_, ok := r.typing[connID]
	return ok
}

func typingEnvelope(name string, isTyping bool) protocol.Envelope {
	return protocol.Envelope{Event: protocol.EventUserTyping, Data: protocol.UserTyping{Username: name, IsTyping: isTyping}}
}

// newMessageID returns a time-ordered id so clients can sort by it.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
